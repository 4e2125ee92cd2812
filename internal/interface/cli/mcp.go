package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomasky/ccbridge/cmd/ccbridge/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Start MCP server exposing chat and session tools",
	Long: `Start an MCP (Model Context Protocol) server over stdio. Other tools
can then send messages through ccbridge sessions and inspect history.

Configure in an MCP client's config file:
  {
    "mcpServers": {
      "ccbridge": {
        "command": "ccbridge",
        "args": ["serve-mcp"]
      }
    }
  }
`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	if err := mcp.StartServer(dbPath); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
