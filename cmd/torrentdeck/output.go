// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/autobrr/torrentdeck/internal/dispatch"
	"github.com/autobrr/torrentdeck/internal/filetree"
	"github.com/autobrr/torrentdeck/internal/session"
)

type outputFormat string

const (
	outputTable outputFormat = "table"
	outputJSON  outputFormat = "json"
	outputYAML  outputFormat = "yaml"
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case outputTable, outputJSON, outputYAML:
		return f, nil
	case "":
		return outputTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

func writeStructured(w io.Writer, format outputFormat, v any) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// printFlow shows what an add would upload
func printFlow(w io.Writer, view dispatch.FlowView) {
	name := view.FileName
	if view.Metadata != nil {
		name = view.Metadata.Name
	}
	fmt.Fprintf(w, "%s -> %s\n", name, dash(view.DownloadPath))
	fmt.Fprintf(w, "Selected %d/%d files, %s\n\n", view.SelectedFiles, view.TotalFiles, session.FormatBytes(view.SelectedSize))
	printTree(w, view.Nodes)
}

func printTree(w io.Writer, nodes []dispatch.FlowNode) {
	for _, n := range nodes {
		name := n.Name
		if !n.IsLeaf {
			name += "/"
		}
		fmt.Fprintf(w, "%s%s %s (%s)\n", strings.Repeat("  ", n.Depth), checkMark(n.State), name, session.FormatBytes(n.Size))
	}
}

func checkMark(state filetree.CheckState) string {
	switch state {
	case filetree.Checked:
		return "[x]"
	case filetree.Partial:
		return "[-]"
	default:
		return "[ ]"
	}
}
