package schedule

import (
	"io"
	"regexp"
	"strings"

	"horario-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// CourseMarker is the class the portal puts on the table row naming a course.
const CourseMarker = "orange"

// Row is one rendered table row.
type Row struct {
	IsCourse bool
	Text     string
}

// Entry is one course of the class schedule.
type Entry struct {
	Course string `json:"materia"`
	Days   string `json:"dias"`
	Time   string `json:"hora"`
}

var detailRegex = regexp.MustCompile(`Horario:\s*([^\d]+)\s+(\d{1,2}:\d{2}-\d{1,2}:\d{2})`)

// Parse pairs every course row with the row right after it and extracts the days and
// time range from that detail row. Courses without a detail row or whose detail row has
// no "Horario:" match are skipped, only the first match of a detail row is used.
func Parse(rows []Row) []Entry {
	entries := []Entry{}
	for i, row := range rows {
		if !row.IsCourse || i+1 >= len(rows) {
			continue
		}
		groups := detailRegex.FindStringSubmatch(rows[i+1].Text)
		if groups == nil {
			continue
		}
		entries = append(entries, Entry{
			Course: strings.TrimSpace(row.Text),
			Days:   strings.TrimSpace(groups[1]),
			Time:   strings.TrimSpace(groups[2]),
		})
	}
	return entries
}

// RowsFromHTML reads every table row of the document in document order, rows carrying
// CourseMarker are course rows.
func RowsFromHTML(r io.Reader) ([]Row, error) {
	return RowsFromHTMLWithMarker(r, CourseMarker)
}

// RowsFromHTMLWithMarker is RowsFromHTML with a custom course row class.
func RowsFromHTMLWithMarker(r io.Reader, marker string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var rows []Row
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		node := tr.Get(0)
		rows = append(rows, Row{
			IsCourse: htmlutil.HasClass(node, marker),
			Text:     htmlutil.InnerText(node),
		})
	})
	return rows, nil
}
