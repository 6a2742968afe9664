package dockerutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindBindablePort_ReturnsBindablePort(t *testing.T) {
	port, err := FindBindablePort(20000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, port, 20000)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
}

func TestFindBindablePort_SkipsOccupiedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:20100")
	require.NoError(t, err)
	defer ln.Close()

	port, err := FindBindablePort(20100)
	require.NoError(t, err)
	require.NotEqual(t, 20100, port)
}
