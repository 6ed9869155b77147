package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrClosed is returned by calls that were pending or issued after the read loop stopped.
var ErrClosed = errors.New("acp connection closed")

// Handler answers a request sent by the agent to the client.
// Returning an *Error sends it verbatim; any other error becomes a server error.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Options configures a Conn.
type Options struct {
	Logger *zap.Logger
	// OnNotification receives notifications in arrival order, on the read loop goroutine.
	OnNotification func(method string, params json.RawMessage)
	// OnMalformed receives lines that are not valid JSON-RPC frames.
	OnMalformed func(line []byte, err error)
}

// Conn is a newline-delimited JSON-RPC 2.0 connection.
type Conn struct {
	r    *bufio.Reader
	w    io.Writer
	opts Options
	log  *zap.Logger

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	pendingMu sync.Mutex
	pending   map[string]chan *Message
	idGen     atomic.Int64

	done     chan struct{}
	doneOnce sync.Once
	closeErr error
}

// NewConn wraps the agent's stdout (r) and stdin (w).
func NewConn(r io.Reader, w io.Writer, opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		r:        bufio.NewReader(r),
		w:        w,
		opts:     opts,
		log:      logger,
		handlers: make(map[string]Handler),
		pending:  make(map[string]chan *Message),
		done:     make(chan struct{}),
	}
}

// Handle registers the handler for an agent-to-client method.
func (c *Conn) Handle(method string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = h
}

// Done is closed once the read loop has stopped.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the reason the read loop stopped, nil for a clean EOF.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Serve runs the read loop until the reader ends. Closing the reader is the way to stop it.
func (c *Conn) Serve(ctx context.Context) error {
	var loopErr error
	for {
		line, err := c.r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			c.dispatch(ctx, bytes.TrimSpace(line))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				loopErr = err
			}
			break
		}
	}
	c.shutdown(loopErr)
	return loopErr
}

func (c *Conn) shutdown(err error) {
	c.doneOnce.Do(func() {
		c.closeErr = err
		close(c.done)
	})
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for key, ch := range c.pending {
		delete(c.pending, key)
		close(ch)
	}
}

func (c *Conn) dispatch(ctx context.Context, line []byte) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		c.malformed(line, err)
		return
	}
	switch {
	case msg.IsResponse():
		c.deliver(&msg)
	case msg.IsRequest():
		c.serveRequest(ctx, &msg)
	case msg.IsNotification():
		if c.opts.OnNotification != nil {
			c.opts.OnNotification(msg.Method, msg.Params)
		}
	default:
		c.malformed(line, errors.New("not a json-rpc request, notification or response"))
	}
}

func (c *Conn) malformed(line []byte, err error) {
	c.log.Debug("malformed frame", zap.Error(err), zap.Int("bytes", len(line)))
	if c.opts.OnMalformed != nil {
		c.opts.OnMalformed(append([]byte(nil), line...), err)
	}
}

func (c *Conn) deliver(msg *Message) {
	key := idKey(msg.ID)
	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()
	if !ok {
		c.log.Debug("response for unknown request", zap.String("id", key))
		return
	}
	ch <- msg
}

func (c *Conn) serveRequest(ctx context.Context, req *Message) {
	c.handlersMu.RLock()
	h, ok := c.handlers[req.Method]
	c.handlersMu.RUnlock()

	resp := &Message{JSONRPC: jsonrpcVersion, ID: req.ID}
	if !ok {
		resp.Error = &Error{Code: CodeMethodNotFound, Message: "Method not found"}
	} else {
		result, err := h(ctx, req.Params)
		if err != nil {
			var rpcErr *Error
			if errors.As(err, &rpcErr) {
				resp.Error = rpcErr
			} else {
				resp.Error = &Error{Code: CodeServerError, Message: err.Error()}
			}
		} else {
			raw, err := json.Marshal(result)
			if err != nil {
				resp.Error = &Error{Code: CodeInternalError, Message: err.Error()}
			} else {
				resp.Result = raw
			}
		}
	}
	if err := c.send(resp); err != nil {
		c.log.Warn("failed to answer agent request", zap.String("method", req.Method), zap.Error(err))
	}
}

// Call sends a request and decodes the response result into result (when non-nil).
// A JSON-RPC error response is returned as *Error.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	id := c.idGen.Add(1)
	key := strconv.FormatInt(id, 10)
	ch := make(chan *Message, 1)

	c.pendingMu.Lock()
	c.pending[key] = ch
	c.pendingMu.Unlock()

	req := &Message{JSONRPC: jsonrpcVersion, ID: json.RawMessage(key), Method: method, Params: raw}
	if err := c.send(req); err != nil {
		c.forget(key)
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		return finishCall(method, resp, ok, result)
	case <-c.done:
		select {
		case resp, ok := <-ch:
			return finishCall(method, resp, ok, result)
		default:
			c.forget(key)
			return fmt.Errorf("%s: %w", method, ErrClosed)
		}
	case <-ctx.Done():
		c.forget(key)
		return ctx.Err()
	}
}

func finishCall(method string, resp *Message, ok bool, result any) error {
	if !ok {
		return fmt.Errorf("%s: %w", method, ErrClosed)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// Notify sends a notification.
func (c *Conn) Notify(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.send(&Message{JSONRPC: jsonrpcVersion, Method: method, Params: raw})
}

func (c *Conn) forget(key string) {
	c.pendingMu.Lock()
	delete(c.pending, key)
	c.pendingMu.Unlock()
}

func (c *Conn) send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.w.Write(append(data, '\n'))
	return err
}
