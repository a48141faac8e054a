package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vocalize-voice-lab/internal/logging"
	"github.com/vocalize-voice-lab/internal/mcp"
)

// AskTool runs the answer path for a typed question.
const AskTool = mcp.AskTool

type askArgs struct {
	Prompt string `json:"prompt"`
}

func (s *Server) newMCPServer() *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "vocalize-relay", Version: Version}, nil)

	sdk.AddTool(server, &sdk.Tool{
		Name:        AskTool,
		Description: "Answer a question with the relay's assistant persona",
	}, func(ctx context.Context, req *sdk.CallToolRequest, args askArgs) (*sdk.CallToolResult, any, error) {
		ctx = logging.WithFields(ctx, "mcp_tool", AskTool)
		tctx, cancel := context.WithTimeout(ctx, s.cfg.Provider.GetTimeout())
		defer cancel()
		text, _ := s.answer(tctx, args.Prompt)
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: text}},
		}, nil, nil
	})

	sdk.AddTool(server, &sdk.Tool{
		Name:        mcp.HealthTool,
		Description: "Report relay status and uptime",
	}, func(ctx context.Context, req *sdk.CallToolRequest, args struct{}) (*sdk.CallToolResult, any, error) {
		body, err := json.Marshal(map[string]any{
			"status":   "healthy",
			"uptime":   time.Since(s.started).Seconds(),
			"provider": s.provider.Name(),
		})
		if err != nil {
			return nil, nil, err
		}
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: string(body)}},
		}, nil, nil
	})
	return server
}

func serveMCP(s *Server, c *gin.Context) error {
	return mcp.ServeWebSocket(s.baseCtx, s.mcp, c.Writer, c.Request)
}
