package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/ffi-boundary/contract"
)

var layoutHeaders = []string{"TYPE", "SIZE", "ALIGN", "POLICY", "SLOT", "SLOT TYPE", "OFFSET", "WIDTH"}

func newLayoutCommand(_ *rootOptions) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the byte layout of every shared type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if !plain && isTerminal(w) {
				_, err := fmt.Fprintln(w, styledLayout())
				return err
			}
			return writeLayout(w)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "never style the output")
	return cmd
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func layoutRows() [][]string {
	var rows [][]string
	for _, r := range contract.LayoutTable() {
		rows = append(rows, []string{
			r.Type.String(),
			strconv.Itoa(int(r.TypeSize)),
			strconv.Itoa(int(r.TypeAlign)),
			r.Type.Policy().String(),
			r.Slot.Name,
			r.Slot.Type,
			strconv.Itoa(int(r.Slot.Offset)),
			strconv.Itoa(int(r.Slot.Size)),
		})
	}
	return rows
}

// writeLayout prints one aligned line per slot.
func writeLayout(w io.Writer) error {
	const format = "%-16s %4s %5s %-11s %-8s %-9s %6s %5s\n"
	line := func(cols []string) error {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = c
		}
		_, err := fmt.Fprintf(w, format, args...)
		return err
	}
	if err := line(layoutHeaders); err != nil {
		return err
	}
	for _, row := range layoutRows() {
		if err := line(row); err != nil {
			return err
		}
	}
	return nil
}

func styledLayout() string {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4")).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	typeCol := cell.Foreground(lipgloss.Color("#98FB98"))
	slotCol := cell.Foreground(lipgloss.Color("#87CEEB"))

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))).
		Headers(layoutHeaders...).
		Rows(layoutRows()...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case col == 0:
				return typeCol
			case col == 4 || col == 5:
				return slotCol
			}
			return cell
		}).
		String()
}
