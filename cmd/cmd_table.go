// cmd_table.go - Tabellen- und TSV-Ausgabe
// Hauptfunktionen: renderTable
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/clstream/cldnn/envconfig"
)

// isTerminal - Prueft ob w ein Terminal ist
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// renderTable - Schreibt eine Tabelle auf ein Terminal, sonst
// tabulatorgetrennte Zeilen mit Kopfzeile
func renderTable(w io.Writer, header []string, data [][]string) {
	if envconfig.PlainOutput() || !isTerminal(w) {
		fmt.Fprintln(w, strings.Join(header, "\t"))
		for _, row := range data {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
