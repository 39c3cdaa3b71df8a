package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = ""
	gitCommit = ""
	buildTime = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "eemcp",
		Short:         "MCP server for ExpressionEngine content via the Reinos Webservice",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newCallCmd(), newToolsCmd())
	return root
}

func versionString() string {
	v := version
	if v == "" {
		v = "dev"
	}
	if gitCommit != "" {
		v += " (" + gitCommit + ")"
	}
	if buildTime != "" {
		v += " built " + buildTime
	}
	return v
}
