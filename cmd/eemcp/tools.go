package main

import (
	"github.com/eemcp/eemcp/internal/mcp"
	"github.com/spf13/cobra"
)

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool reference as markdown",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			mcp.WriteMarkdown(cmd.OutOrStdout(), mcp.ToolDefinitions())
		},
	}
}
