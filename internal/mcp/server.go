package mcp

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vocalize-voice-lab/internal/logging"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// ServeWebSocket upgrades the request and runs an MCP server session over
// it in the background. The session lives until the peer disconnects or
// ctx is cancelled.
func ServeWebSocket(ctx context.Context, server *sdk.Server, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	go func() {
		session, err := server.Connect(ctx, NewWebSocketTransport(conn), nil)
		if err != nil {
			logging.Warnw("mcp: server connect failed", "err", err, "remote", r.RemoteAddr)
			_ = conn.Close()
			return
		}
		stop := context.AfterFunc(ctx, func() { _ = session.Close() })
		defer stop()
		if err := session.Wait(); err != nil {
			logging.Debugw("mcp: server session ended", "err", err, "remote", r.RemoteAddr)
			return
		}
		logging.Debugw("mcp: server session ended", "remote", r.RemoteAddr)
	}()
	return nil
}
