package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeAgent is the far side of a Conn: it reads what the client writes and writes what the client reads.
type fakeAgent struct {
	in  *bufio.Scanner
	out *io.PipeWriter
}

func (a *fakeAgent) read(t *testing.T) Message {
	t.Helper()
	require.True(t, a.in.Scan(), "agent expected a frame")
	var msg Message
	require.NoError(t, json.Unmarshal(a.in.Bytes(), &msg))
	return msg
}

func (a *fakeAgent) write(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(a.out, line+"\n")
	require.NoError(t, err)
}

func newPair(t *testing.T, opts Options) (*Conn, *fakeAgent, <-chan error) {
	t.Helper()
	clientR, agentW := io.Pipe()
	agentR, clientW := io.Pipe()
	conn := NewConn(clientR, clientW, opts)
	served := make(chan error, 1)
	go func() { served <- conn.Serve(context.Background()) }()
	t.Cleanup(func() {
		_ = agentW.Close()
		_ = agentR.Close()
		<-conn.Done()
	})
	return conn, &fakeAgent{in: bufio.NewScanner(agentR), out: agentW}, served
}

func TestCallReceivesResult(t *testing.T) {
	conn, agent, _ := newPair(t, Options{})

	type result struct {
		SessionID string `json:"sessionId"`
	}
	got := make(chan error, 1)
	var res result
	go func() { got <- conn.Call(context.Background(), "session/new", map[string]any{"cwd": "/tmp"}, &res) }()

	req := agent.read(t)
	require.Equal(t, "session/new", req.Method)
	require.True(t, req.IsRequest())
	require.JSONEq(t, `{"cwd":"/tmp"}`, string(req.Params))

	// the id is echoed back as a string on purpose
	agent.write(t, `{"jsonrpc":"2.0","id":"`+idKey(req.ID)+`","result":{"sessionId":"abc"}}`)
	require.NoError(t, <-got)
	require.Equal(t, "abc", res.SessionID)
}

func TestCallReturnsRPCError(t *testing.T) {
	conn, agent, _ := newPair(t, Options{})

	got := make(chan error, 1)
	go func() { got <- conn.Call(context.Background(), "session/prompt", nil, nil) }()

	req := agent.read(t)
	agent.write(t, `{"jsonrpc":"2.0","id":`+string(req.ID)+`,"error":{"code":-32603,"message":"Session not found"}}`)

	err := <-got
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, CodeInternalError, rpcErr.Code)
	require.Contains(t, err.Error(), "Session not found")
}

func TestAgentRequestsAreAnswered(t *testing.T) {
	conn, agent, _ := newPair(t, Options{})
	conn.Handle("session/request_permission", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]any{"outcome": map[string]any{"outcome": "selected", "optionId": "allow"}}, nil
	})
	conn.Handle("fs/write_text_file", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errors.New("disk full")
	})

	agent.write(t, `{"jsonrpc":"2.0","id":1,"method":"session/request_permission","params":{}}`)
	resp := agent.read(t)
	require.True(t, resp.IsResponse())
	require.Nil(t, resp.Error)
	require.JSONEq(t, `{"outcome":{"outcome":"selected","optionId":"allow"}}`, string(resp.Result))

	agent.write(t, `{"jsonrpc":"2.0","id":2,"method":"fs/write_text_file","params":{}}`)
	resp = agent.read(t)
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeServerError, resp.Error.Code)
	require.Equal(t, "disk full", resp.Error.Message)

	agent.write(t, `{"jsonrpc":"2.0","id":"x","method":"terminal/create","params":{}}`)
	resp = agent.read(t)
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
	require.Equal(t, "Method not found", resp.Error.Message)
	require.Equal(t, "x", idKey(resp.ID))
}

func TestNotificationsAndMalformedLinesKeepOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	record := func(s string) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}
	_, agent, served := newPair(t, Options{
		OnNotification: func(method string, params json.RawMessage) { record("notify:" + method) },
		OnMalformed:    func(line []byte, err error) { record("bad:" + string(line)) },
	})

	agent.write(t, `{"jsonrpc":"2.0","method":"session/update","params":{}}`)
	agent.write(t, `this is not json`)
	agent.write(t, ``)
	agent.write(t, `{"jsonrpc":"2.0"}`)
	agent.write(t, `{"jsonrpc":"2.0","method":"session/update","params":{}}`)
	require.NoError(t, agent.out.Close())
	require.NoError(t, <-served)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"notify:session/update",
		"bad:this is not json",
		`bad:{"jsonrpc":"2.0"}`,
		"notify:session/update",
	}, seen)
}

func TestPendingCallFailsWhenStreamEnds(t *testing.T) {
	conn, agent, _ := newPair(t, Options{})

	got := make(chan error, 1)
	go func() { got <- conn.Call(context.Background(), "session/prompt", nil, nil) }()
	_ = agent.read(t)
	require.NoError(t, agent.out.Close())

	select {
	case err := <-got:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not fail after close")
	}
	require.ErrorIs(t, conn.Call(context.Background(), "session/new", nil, nil), ErrClosed)
}

func TestCallHonorsContext(t *testing.T) {
	conn, agent, _ := newPair(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	go func() { got <- conn.Call(ctx, "session/prompt", nil, nil) }()
	_ = agent.read(t)
	cancel()
	require.ErrorIs(t, <-got, context.Canceled)
}
