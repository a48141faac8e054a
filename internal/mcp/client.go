package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vocalize-voice-lab/internal/logging"
)

// ErrNotConnected is returned by calls made before ConnectWebSocket.
var ErrNotConnected = errors.New("mcp: not connected")

// Tool names served by the relay.
const (
	AskTool    = "ask"
	HealthTool = "health"
)

// ClientWrapper connects to an MCP server over websocket and manages the
// session lifecycle.
type ClientWrapper struct {
	client          *sdk.Client
	session         *sdk.ClientSession
	keepaliveCancel context.CancelFunc
	mu              sync.Mutex
}

// NewClientWrapper creates a new wrapper with the given name/version.
func NewClientWrapper(name, version string) *ClientWrapper {
	impl := &sdk.Implementation{Name: name, Version: version}
	c := sdk.NewClient(impl, nil)
	return &ClientWrapper{client: c}
}

// WebSocketURL turns an http(s) base URL plus path into a ws(s) URL.
func WebSocketURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// ConnectWebSocket dials rawurl and initializes a session.
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := WebSocketURL(rawurl, "")
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return err
	}
	if err := w.connect(ctx, NewWebSocketTransport(conn)); err != nil {
		_ = conn.Close()
		return err
	}
	logging.Infow("mcp: client connected", "url", u)
	return nil
}

func (w *ClientWrapper) connect(ctx context.Context, transport sdk.Transport) error {
	sess, err := w.client.Connect(ctx, transport, nil)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session = sess
	kaCtx, cancel := context.WithCancel(context.Background())
	if prev := w.keepaliveCancel; prev != nil {
		prev()
	}
	w.keepaliveCancel = cancel
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				if err := sess.Ping(kaCtx, nil); err != nil {
					logging.Debugw("mcp: keepalive ping failed", "err", err)
				}
			}
		}
	}()
	return nil
}

// CallText invokes tool with args and returns the concatenated text content.
func (w *ClientWrapper) CallText(ctx context.Context, tool string, args map[string]any) (string, error) {
	w.mu.Lock()
	sess := w.session
	w.mu.Unlock()
	if sess == nil {
		return "", ErrNotConnected
	}
	res, err := sess.CallTool(ctx, &sdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("mcp tool %s failed: %s", tool, sb.String())
	}
	return sb.String(), nil
}

func (w *ClientWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.keepaliveCancel != nil {
		w.keepaliveCancel()
		w.keepaliveCancel = nil
	}
	if w.session == nil {
		return nil
	}
	err := w.session.Close()
	w.session = nil
	return err
}
