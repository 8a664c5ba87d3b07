package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vastfmt/internal/audio"
	"github.com/kalambet/vastfmt/internal/rds"
	"github.com/kalambet/vastfmt/internal/settings"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Router   AudioRouter
	Settings SettingsService
}

// NewMCPServer creates an MCP server with the transmitter tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"vastfmt",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vastfmt controls an FM transmitter: audio routing, transmitter settings and RDS."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("detect_transmitter",
			mcp.WithDescription("Report whether the FM transmitter's sound card is present and where the default audio output points."),
		),
		mcpDetect(deps),
	)

	s.AddTool(
		mcp.NewTool("set_fm_audio",
			mcp.WithDescription("Route the default audio output to the FM transmitter or back to the on-board card."),
			mcp.WithString("state", mcp.Description("enabled or disabled"), mcp.Required(), mcp.Enum(audio.StateEnabled, audio.StateDisabled)),
		),
		mcpSetFMAudio(deps),
	)

	s.AddTool(
		mcp.NewTool("get_settings",
			mcp.WithDescription("Return every transmitter setting as a JSON object."),
		),
		mcpGetSettings(deps),
	)

	s.AddTool(
		mcp.NewTool("set_setting",
			mcp.WithDescription("Validate and store one transmitter setting."),
			mcp.WithString("key", mcp.Description("Setting name (e.g. Frequency)"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set"), mcp.Required()),
		),
		mcpSetSetting(deps),
	)

	s.AddTool(
		mcp.NewTool("rds_script",
			mcp.WithDescription("Render a shell script that starts RDS transmission with the given artist, title and station."),
			mcp.WithString("artist", mcp.Description("Artist name")),
			mcp.WithString("title", mcp.Description("Song title")),
			mcp.WithString("station", mcp.Description("Station name, at most 8 characters")),
			mcp.WithString("frequency", mcp.Description("Frequency in MHz (default: stored Frequency)")),
		),
		mcpRDSScript(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"vastfmt://settings",
			"Transmitter Settings",
			mcp.WithResourceDescription("Current transmitter settings as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSettings(deps),
	)

	return s
}

func mcpDetect(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		det, err := deps.Router.Detect(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("detection failed: %v", err)), nil
		}
		st, err := deps.Router.Status(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("reading routing failed: %v", err)), nil
		}

		b, err := json.Marshal(StatusResponse{Detection: det, Routing: st})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetFMAudio(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		state, err := req.RequireString("state")
		if err != nil {
			return mcpError("state is required"), nil
		}

		reply, err := deps.Router.Toggle(ctx, state)
		if err != nil {
			return mcpError(fmt.Sprintf("set_fm_audio failed: %v", err)), nil
		}
		return mcpText(reply), nil
	}
}

func mcpGetSettings(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		all, err := deps.Settings.All()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load settings: %v", err)), nil
		}
		b, err := json.Marshal(all)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal settings: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetSetting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		stored, err := deps.Settings.Set(key, value)
		if err != nil {
			if errors.Is(err, settings.ErrUnknownKey) {
				return mcpError(fmt.Sprintf("unknown setting %q", key)), nil
			}
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("%s = %s", key, stored)), nil
	}
}

func mcpRDSScript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		freq := req.GetString("frequency", "")
		if freq == "" {
			stored, err := deps.Settings.Get(settings.Frequency)
			if err != nil {
				return mcpError(fmt.Sprintf("reading frequency: %v", err)), nil
			}
			freq = stored
		}

		script, err := rds.Script(rds.ScriptParams{
			Frequency: freq,
			Artist:    req.GetString("artist", "Artist Name"),
			Title:     req.GetString("title", "Song Title"),
			Station:   req.GetString("station", "VAST"),
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(script), nil
	}
}

func mcpResourceSettings(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		all, err := deps.Settings.All()
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}

		b, err := json.Marshal(all)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
