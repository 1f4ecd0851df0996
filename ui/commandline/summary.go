// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains UI tools for the command line: a progress bar for training loops
// and a summary table of a model's parameters.
package commandline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/stax/pkg/stax"
)

// ParamsSummary returns a table listing every parameter of params: its path in the tree, shape, number
// of values and memory, followed by the totals.
//
// The path is the index of the child at each level, followed by "#" and the index of the leaf. E.g. "3/0#1"
// is the second leaf of the first child of the fourth child of the root.
func ParamsSummary(title string, params *stax.Params) string {
	headerStyle := normalStyle.Bold(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			if col == 0 || col == 1 {
				return normalStyle
			}
			return rightAlignedStyle
		}).
		Headers("Parameter", "Shape", "Size", "Memory")

	var walk func(prefix []string, node *stax.Params)
	walk = func(prefix []string, node *stax.Params) {
		if node == nil {
			return
		}
		for i, leaf := range node.Leaves {
			table.Row(strings.Join(prefix, "/")+"#"+strconv.Itoa(i), leaf.Shape().String(),
				humanize.Comma(int64(leaf.Shape().Size())), humanize.Bytes(uint64(leaf.Shape().Memory())))
		}
		for i, child := range node.Children {
			walk(append(prefix, strconv.Itoa(i)), child)
		}
	}
	walk(nil, params)
	table.Row("Total", fmt.Sprintf("%d parameters", params.NumLeaves()),
		humanize.Comma(int64(stax.ParamsCount(params))), humanize.Bytes(uint64(stax.ParamsMemory(params))))
	return lipgloss.NewStyle().Bold(true).Render(title) + "\n" + table.String()
}
