package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/eemcp/eemcp/internal/core"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <action>",
		Short: "Run one manage_content action and print the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runCall,
	}
	cmd.Flags().String("params", "{}", "Action params as a JSON object")
	cmd.Flags().Bool("json", false, "Print the raw result envelope")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	rawParams, _ := cmd.Flags().GetString("params")
	asJSON, _ := cmd.Flags().GetBool("json")

	var params core.Params
	if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
		return fmt.Errorf("invalid --params: %w", err)
	}

	a, err := newApp(cmd.Context(), os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	env := a.svc.Execute(cmd.Context(), uuid.New().String(), core.ActionRequest{
		Action: core.ParseAction(args[0]),
		Params: params,
	})

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(env); err != nil {
			return err
		}
	} else {
		printEnvelope(out, env)
	}
	if !env.OK {
		return fmt.Errorf("%s failed: %s", env.Meta.Action, env.Error.Code)
	}
	return nil
}

func printEnvelope(w io.Writer, env core.ToolEnvelope) {
	header := color.New(color.Bold)
	status := color.New(color.FgGreen, color.Bold)
	switch env.Result.Kind {
	case core.KindEmpty:
		status = color.New(color.FgYellow, color.Bold)
	case core.KindValidationError, core.KindRemoteError, core.KindResourceExhausted:
		status = color.New(color.FgRed, color.Bold)
	}

	header.Fprintf(w, "%s on %s ", env.Meta.Action, env.Meta.Site)
	status.Fprintf(w, "[%s]", env.Result.Kind)
	fmt.Fprintf(w, " %dms trace=%s\n", env.Meta.DurationMS, env.Meta.TraceID)
	if env.Meta.ToolCallID != "" {
		fmt.Fprintln(w, color.CyanString("audit: %s sha256=%s", env.Meta.ToolCallID, env.Meta.EvidenceHash))
	}
	fmt.Fprintln(w, env.Result.Text())
}
