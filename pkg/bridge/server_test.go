package bridge

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

type fakeAuthenticator struct {
	moduleByKey map[string]string
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, plainKey string) (string, error) {
	moduleID, ok := f.moduleByKey[plainKey]
	if !ok {
		return "", platformerr.New(platformerr.CapabilityDenied, "invalid api key")
	}
	return moduleID, nil
}

func startTestServer(t *testing.T, handlers map[string]HandlerFunc, timeout time.Duration) (*Server, func()) {
	t.Helper()
	auth := &fakeAuthenticator{moduleByKey: map[string]string{"good-key": "mod-1"}}
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0, RPCTimeout: timeout}, auth, handlers, nil)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		go func() {
			for srv.listener == nil {
				time.Sleep(time.Millisecond)
			}
			close(started)
		}()
		_ = srv.Start(ctx)
	}()
	<-started

	return srv, func() {
		cancel()
		srv.Stop()
	}
}

func dialAndCall(t *testing.T, addr, id, method string, params interface{}) Response {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	return callOnConn(t, conn, id, method, params)
}

func callOnConn(t *testing.T, conn net.Conn, id, method string, params interface{}) Response {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)
	reqBody, err := json.Marshal(Request{ID: id, Method: method, Params: paramsJSON})
	require.NoError(t, err)
	require.NoError(t, writeFrame(conn, reqBody))

	respBody, err := readFrame(conn)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	return resp
}

func TestServer_RejectsCallBeforeAuthenticate(t *testing.T) {
	srv, stop := startTestServer(t, map[string]HandlerFunc{
		"ping": func(ctx context.Context, callerModuleID string, params json.RawMessage) (interface{}, error) {
			return "pong", nil
		},
	}, 0)
	defer stop()

	resp := dialAndCall(t, srv.Address(), "1", "ping", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, string(platformerr.CapabilityDenied), resp.Error.Code)
}

func TestServer_AuthenticateThenDispatch(t *testing.T) {
	srv, stop := startTestServer(t, map[string]HandlerFunc{
		"ping": func(ctx context.Context, callerModuleID string, params json.RawMessage) (interface{}, error) {
			return map[string]string{"caller": callerModuleID}, nil
		},
	}, 0)
	defer stop()

	conn, err := net.Dial("tcp", srv.Address())
	require.NoError(t, err)
	defer conn.Close()

	authResp := callOnConn(t, conn, "1", "authenticate", map[string]string{"api_key": "good-key"})
	require.Nil(t, authResp.Error)

	pingResp := callOnConn(t, conn, "2", "ping", nil)
	require.Nil(t, pingResp.Error)
	result, ok := pingResp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "mod-1", result["caller"])
}

func TestServer_RejectsBadApiKey(t *testing.T) {
	srv, stop := startTestServer(t, map[string]HandlerFunc{}, 0)
	defer stop()

	resp := dialAndCall(t, srv.Address(), "1", "authenticate", map[string]string{"api_key": "wrong"})
	require.NotNil(t, resp.Error)
	require.Equal(t, string(platformerr.CapabilityDenied), resp.Error.Code)
}

func TestServer_UnknownMethodAfterAuth(t *testing.T) {
	srv, stop := startTestServer(t, map[string]HandlerFunc{}, 0)
	defer stop()

	conn, err := net.Dial("tcp", srv.Address())
	require.NoError(t, err)
	defer conn.Close()

	authResp := callOnConn(t, conn, "1", "authenticate", map[string]string{"api_key": "good-key"})
	require.Nil(t, authResp.Error)

	resp := callOnConn(t, conn, "2", "does_not_exist", nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, string(platformerr.PlatformCallFailed), resp.Error.Code)
}

func TestServer_HandlerTimeoutSurfacesAsError(t *testing.T) {
	blocking := func(ctx context.Context, callerModuleID string, params json.RawMessage) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	srv, stop := startTestServer(t, map[string]HandlerFunc{"slow": blocking}, 50*time.Millisecond)
	defer stop()

	conn, err := net.Dial("tcp", srv.Address())
	require.NoError(t, err)
	defer conn.Close()

	authResp := callOnConn(t, conn, "1", "authenticate", map[string]string{"api_key": "good-key"})
	require.Nil(t, authResp.Error)

	resp := callOnConn(t, conn, "2", "slow", nil)
	require.NotNil(t, resp.Error)
}
