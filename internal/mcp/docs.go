package mcp

import (
	"fmt"
	"io"
	"sort"
)

// WriteMarkdown renders the tool reference for defs.
func WriteMarkdown(w io.Writer, defs []map[string]any) {
	fmt.Fprintln(w, "# MCP Tools (Generated)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "This file is generated from `internal/mcp/server.go`.")
	fmt.Fprintln(w)

	for _, d := range defs {
		name, _ := d["name"].(string)
		desc, _ := d["description"].(string)
		fmt.Fprintf(w, "## `%s`\n\n", name)
		if desc != "" {
			fmt.Fprintln(w, desc)
			fmt.Fprintln(w)
		}

		schema, _ := d["inputSchema"].(map[string]any)
		props, _ := schema["properties"].(map[string]any)
		requiredRaw, _ := schema["required"].([]string)
		requiredSet := make(map[string]bool, len(requiredRaw))
		for _, r := range requiredRaw {
			requiredSet[r] = true
		}

		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		if len(keys) > 0 {
			fmt.Fprintln(w, "Input:")
			for _, k := range keys {
				req := "optional"
				if requiredSet[k] {
					req = "required"
				}
				line := fmt.Sprintf("- `%s` (%s)", k, req)
				if p, ok := props[k].(map[string]any); ok {
					if enum, ok := p["enum"].([]string); ok && len(enum) > 0 {
						line += fmt.Sprintf(": one of %v", enum)
					} else if pd, ok := p["description"].(string); ok {
						line += ": " + pd
					}
				}
				fmt.Fprintln(w, line)
			}
		}
		fmt.Fprintln(w)
	}
}
