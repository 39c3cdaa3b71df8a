package main

import (
	"os"

	"github.com/eemcp/eemcp/internal/mcp"
)

func main() {
	mcp.WriteMarkdown(os.Stdout, mcp.ToolDefinitions())
}
