package report

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// LipglossFormatter renders summary tables with lipgloss borders.
type LipglossFormatter struct{}

// NewTableFormatter returns the default lipgloss-backed formatter.
func NewTableFormatter() *LipglossFormatter {
	return &LipglossFormatter{}
}

// Format renders headers plus rows as a bordered table.
func (f *LipglossFormatter) Format(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	return t.Render()
}
