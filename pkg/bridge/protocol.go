package bridge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame so a malformed length prefix can
// never make the server try to allocate an unbounded buffer.
const maxFrameBytes = 64 << 20

// Request is one JSON-RPC call an agent makes over the bridge.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers one Request, carrying either Result or Error.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *RPCError   `json:"error,omitempty"`
}

// RPCError is the wire shape of a failed call. Message is always a
// platformerr-classified message with no stack trace leaked into it.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// readFrame reads one length-prefixed JSON frame: a 4-byte big-endian
// length followed by that many bytes of JSON.
func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > maxFrameBytes {
		return nil, fmt.Errorf("bridge: frame of %d bytes exceeds %d byte limit", length, maxFrameBytes)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// writeFrame writes one length-prefixed JSON frame.
func writeFrame(w io.Writer, body []byte) error {
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(body)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
