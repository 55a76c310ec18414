package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// rpcError is a JSON-RPC error object returned by the peer.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

type rpcRequest struct {
	Method string `json:"method"`
	ID     *int64 `json:"id,omitempty"`
	Params any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// errPeerClosed is returned for calls still pending when the peer's stdout ends.
var errPeerClosed = errors.New("codex app-server exited")

// rpcClient speaks newline-delimited JSON-RPC over a pair of streams.
// Replies are matched to calls by numeric id. Notifications, replies with
// unknown ids and malformed lines are dropped.
type rpcClient struct {
	w io.Writer

	mu      sync.Mutex
	pending map[int64]chan rpcResponse
	closed  bool
	done    chan struct{}
}

func newRPCClient(w io.Writer, r io.Reader) *rpcClient {
	c := &rpcClient{
		w:       w,
		pending: make(map[int64]chan rpcResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *rpcClient) readLoop(r io.Reader) {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	}()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			c.dispatch(line)
		}
		if err != nil {
			return
		}
	}
}

func (c *rpcClient) dispatch(line []byte) {
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
		return
	}
	if resp.Result == nil && resp.Error == nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*resp.ID]
	delete(c.pending, *resp.ID)
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *rpcClient) send(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", req.Method, err)
	}
	data = append(data, '\n')
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", req.Method, err)
	}
	return nil
}

// notify sends a message that expects no reply.
func (c *rpcClient) notify(method string, params any) error {
	return c.send(rpcRequest{Method: method, Params: params})
}

// call sends a request and blocks until its reply, ctx expiry, or peer exit.
func (c *rpcClient) call(ctx context.Context, id int64, method string, params any) (json.RawMessage, error) {
	ch := make(chan rpcResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errPeerClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(rpcRequest{Method: method, ID: &id, Params: params}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// The reply may have been dispatched just before the stream ended.
		select {
		case resp := <-ch:
			if resp.Error != nil {
				return nil, resp.Error
			}
			return resp.Result, nil
		default:
		}
		return nil, errPeerClosed
	}
}
