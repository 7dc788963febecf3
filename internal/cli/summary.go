package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/qverify/internal/pipeline"
	"github.com/ppiankov/qverify/internal/provision"
)

type summaryStyles struct {
	title lipgloss.Style
	label lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
	box   lipgloss.Style
}

func newSummaryStyles(w io.Writer) summaryStyles {
	r := lipgloss.NewRenderer(w)
	return summaryStyles{
		title: r.NewStyle().Bold(true),
		label: r.NewStyle().Width(14).Foreground(lipgloss.Color("245")),
		ok:    r.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("214")),
		bad:   r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		box:   r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	}
}

// renderSummary prints the run counts and the report files written
func renderSummary(w io.Writer, res *pipeline.RunResult) error {
	st := newSummaryStyles(w)
	s := res.Summary

	count := func(n int, style lipgloss.Style) string {
		if n == 0 {
			return st.ok.Render("0")
		}
		return style.Render(fmt.Sprint(n))
	}
	row := func(label, value string) string {
		return st.label.Render(label) + value
	}

	rows := []string{
		st.title.Render("qverify " + res.Version),
		"",
		row("endpoint", res.Endpoint),
	}
	if res.Health != "" {
		health := st.ok.Render(string(res.Health))
		if res.Health != provision.StateHealthy {
			health = st.warn.Render(string(res.Health))
		}
		rows = append(rows, row("instance", health))
	}
	rows = append(rows,
		row("files", fmt.Sprint(s.Files)),
		row("extracted", fmt.Sprint(s.Extracted)),
		row("distinct", fmt.Sprint(s.Distinct)),
		row("skipped", fmt.Sprint(s.Skipped)),
		row("clean", fmt.Sprint(s.Clean)),
		row("deprecated", count(s.Deprecated, st.warn)),
		row("failed", count(s.Failed, st.bad)),
		row("errored", count(s.Errored, st.bad)),
	)
	if s.Cached > 0 {
		rows = append(rows, row("cached", fmt.Sprint(s.Cached)))
	}

	rows = append(rows, "")
	if len(res.Written) == 0 {
		rows = append(rows, st.ok.Render("Nothing to report"))
	}
	for _, path := range res.Written {
		rows = append(rows, "→ "+path)
	}

	_, err := fmt.Fprintln(w, st.box.Render(strings.Join(rows, "\n")))
	return err
}
