package commands

import (
	"io"
	"time"

	"horario-backend/internal/browser"
	"horario-backend/internal/schedule"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}

func renderSchedule(out io.Writer, entries []schedule.Entry) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Materia", "Días", "Hora"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Course, e.Days, e.Time})
	}
	t.AppendFooter(table.Row{"", "Total", len(entries)})
	t.Render()
}

func renderCookies(out io.Writer, title string, cookies []browser.Cookie) {
	t := newTable(out)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Name", "Domain", "Path", "Secure", "HttpOnly", "Host only", "Expires"})
	for _, c := range cookies {
		expires := "session"
		if !c.Expires.IsZero() {
			expires = c.Expires.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{c.Name, c.Domain, c.Path, c.Secure, c.HTTPOnly, c.HostOnly, expires})
	}
	t.Render()
}
