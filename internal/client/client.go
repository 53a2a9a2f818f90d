// Package client implements a thin synchronous client over the Protocol
// Server's local socket (spec.md §4.H/§6.1), used by cmd/suggestctl. It is
// grounded on the teacher's internal/ipc/client.go request/response
// convenience-method shape, re-expressed over internal/protocol's JSON
// frame codec instead of the teacher's generated gRPC stubs.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cmdsense/suggestd/internal/protocol"
)

// DefaultTimeout bounds a single call when the caller supplies no
// deadline via ctx.
const DefaultTimeout = 5 * time.Second

// Client holds one connection to the daemon's Unix socket. Requests on a
// connection are ordered, per spec.md §5 ("request N's response precedes
// request N+1 on the wire"); Client serializes calls with a mutex rather
// than pipelining, matching that guarantee.
type Client struct {
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	mu     sync.Mutex
	nextID uint64
}

// Dial connects to the daemon's socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", path, err)
	}
	return &Client{
		conn:   conn,
		reader: protocol.NewReader(conn, protocol.LengthPrefixed),
		writer: protocol.NewWriter(conn, protocol.LengthPrefixed),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) nextFrameID() string {
	n := atomic.AddUint64(&c.nextID, 1)
	return fmt.Sprintf("%s-%d", uuid.NewString()[:8], n)
}

// call sends a request frame and waits for the matching response,
// honoring ctx's deadline against the connection's read/write deadlines.
func (c *Client) call(ctx context.Context, typ protocol.Type, req any) (protocol.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	} else {
		_ = c.conn.SetDeadline(time.Now().Add(DefaultTimeout))
	}
	defer c.conn.SetDeadline(time.Time{})

	id := c.nextFrameID()
	frame, err := protocol.DataFrame(id, typ, req)
	if err != nil {
		return protocol.Frame{}, err
	}
	frame.Type = typ

	if err := c.writer.WriteFrame(frame); err != nil {
		return protocol.Frame{}, fmt.Errorf("client: write %s: %w", typ, err)
	}
	resp, err := c.reader.ReadFrame()
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("client: read %s response: %w", typ, err)
	}
	if resp.Error != nil {
		return protocol.Frame{}, resp.Error
	}
	return resp, nil
}

// Ping checks daemon liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, protocol.TypePing, struct{}{})
	return err
}

// Status retrieves daemon diagnostics.
func (c *Client) Status(ctx context.Context) (protocol.StatusResponse, error) {
	resp, err := c.call(ctx, protocol.TypeStatus, struct{}{})
	if err != nil {
		return protocol.StatusResponse{}, err
	}
	var out protocol.StatusResponse
	err = resp.Decode(&out)
	return out, err
}

// Log reports one observed command.
func (c *Client) Log(ctx context.Context, req protocol.LogRequest) (protocol.LogResponse, error) {
	resp, err := c.call(ctx, protocol.TypeLog, req)
	if err != nil {
		return protocol.LogResponse{}, err
	}
	var out protocol.LogResponse
	err = resp.Decode(&out)
	return out, err
}

// Suggest requests ranked completions for a partial command.
func (c *Client) Suggest(ctx context.Context, req protocol.SuggestRequest) (protocol.SuggestResponse, error) {
	resp, err := c.call(ctx, protocol.TypeSuggest, req)
	if err != nil {
		return protocol.SuggestResponse{}, err
	}
	var out protocol.SuggestResponse
	err = resp.Decode(&out)
	return out, err
}

// Feedback records acceptance or rejection of a previously emitted candidate.
func (c *Client) Feedback(ctx context.Context, req protocol.FeedbackRequest) error {
	_, err := c.call(ctx, protocol.TypeFeedback, req)
	return err
}

// Search runs a full-text lookup over stored commands.
func (c *Client) Search(ctx context.Context, req protocol.SearchRequest) (protocol.SearchResponse, error) {
	resp, err := c.call(ctx, protocol.TypeSearch, req)
	if err != nil {
		return protocol.SearchResponse{}, err
	}
	var out protocol.SearchResponse
	err = resp.Decode(&out)
	return out, err
}

// Explain retrieves the scoring breakdown for a previously emitted candidate.
func (c *Client) Explain(ctx context.Context, explainID string) (protocol.ExplainResponse, error) {
	resp, err := c.call(ctx, protocol.TypeExplain, protocol.ExplainRequest{ExplainID: explainID})
	if err != nil {
		return protocol.ExplainResponse{}, err
	}
	var out protocol.ExplainResponse
	err = resp.Decode(&out)
	return out, err
}

// Shutdown asks the daemon to begin a graceful shutdown.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.call(ctx, protocol.TypeShutdown, struct{}{})
	return err
}
