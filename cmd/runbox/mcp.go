package main

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/logging"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/server"
)

// maxToolOutput caps the text handed back to the model.
const maxToolOutput = 4000

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the sandbox as an MCP tool over stdio",
	Long: `Serve a "python_run" tool over the Model Context Protocol on stdin/stdout,
so agents can run snippets without going through HTTP. Logs go to stderr.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	policy := server.PolicyFromConfig(cfg)
	sb := sandbox.NewLocalSandbox(policy, sandbox.WithLogger(logger))

	s := mcpserver.NewMCPServer("runbox", version)
	s.AddTool(pythonRunTool(policy), handlePythonRun(sb))

	return mcpserver.ServeStdio(s)
}

func pythonRunTool(policy sandbox.Policy) mcp.Tool {
	return mcp.Tool{
		Name: "python_run",
		Description: fmt.Sprintf("Execute Python code with %s in a disposable directory. "+
			"Returns stdout and stderr. Execution is killed after %s.", policy.Interpreter, policy.Timeout),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code to execute",
				},
				"preload": map[string]any{
					"type":        "string",
					"description": "Setup code run before the main code in the same script (optional)",
				},
				"enable_network": map[string]any{
					"type":        "boolean",
					"description": "Accepted for compatibility; network access is not restricted either way",
				},
			},
			Required: []string{"code"},
		},
	}
}

func handlePythonRun(sb sandbox.Sandbox) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}

		code, ok := args["code"].(string)
		if !ok {
			return errResult("error: 'code' argument must be a string"), nil
		}
		preload, _ := args["preload"].(string)
		enableNetwork, _ := args["enable_network"].(bool)

		result, err := sb.Run(ctx, sandbox.Request{
			Language:      "python",
			Code:          code,
			Preload:       preload,
			EnableNetwork: enableNetwork,
		})
		if err != nil {
			if sandbox.KindOf(err) == sandbox.KindTimeout {
				return errResult("error: code execution timeout"), nil
			}
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}

		var output strings.Builder
		output.WriteString(result.Stdout)
		if result.Stderr != "" {
			if output.Len() > 0 {
				output.WriteString("\n")
			}
			output.WriteString("STDERR:\n" + result.Stderr)
		}
		if result.ExitCode != 0 {
			output.WriteString(fmt.Sprintf("\nexit code: %d", result.ExitCode))
		}

		text := output.String()
		if len(text) > maxToolOutput {
			text = cutUTF8(text, maxToolOutput) + "\n... (output truncated)"
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
			IsError: result.ExitCode != 0,
		}, nil
	}
}

// cutUTF8 returns at most n bytes of s without splitting a multibyte rune.
func cutUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
