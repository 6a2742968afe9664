package bridge

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFrameReadFrame_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"id":"1","method":"ping"}`)

	require.NoError(t, writeFrame(&buf, body))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	oversized := uint32(maxFrameBytes) + 1
	buf.Write([]byte{byte(oversized >> 24), byte(oversized >> 16), byte(oversized >> 8), byte(oversized)})

	_, err := readFrame(&buf)
	require.Error(t, err)
}

func TestReadFrame_TruncatedBodyErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte(`{"id":"1"}`)))
	truncated := buf.Bytes()[:len(buf.Bytes())-2]

	_, err := readFrame(bytes.NewReader(truncated))
	require.Error(t, err)
}
