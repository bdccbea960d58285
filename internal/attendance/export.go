package attendance

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/models"
)

const exportTimeLayout = "2006-01-02 15:04:05"

func statusLabel(status models.Status) string {
	switch status {
	case models.StatusOnTime:
		return "ON TIME"
	case models.StatusLate:
		return "LATE"
	default:
		return "ABSENT"
	}
}

func exportTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(exportTimeLayout)
}

// WriteRosterCSV renders the roster as a semicolon-separated report with a
// header block and a summary, the layout office tooling expects. The leading
// BOM keeps spreadsheet imports from mangling non-ASCII names.
func WriteRosterCSV(w io.Writer, report *RosterReport, teacher *models.User, lateThresholdMinutes int) error {
	if _, err := io.WriteString(w, "\uFEFF"); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}

	cw := csv.NewWriter(w)
	cw.Comma = ';'
	cw.UseCRLF = true

	sess := report.Session
	head := [][]string{
		{"ATTENDANCE REPORT"},
		{},
		{"Teacher", teacher.FullName},
		{"Topic", sess.Topic},
		{"Session", sess.ID},
		{"Started", exportTime(sess.StartedAt)},
		{"Expires", exportTime(sess.ExpiresAt)},
		{"Late rule", fmt.Sprintf("late after %d min", lateThresholdMinutes)},
		{},
		{"Student", "Full name", "Time (UTC)", "Status", "Signature"},
	}
	for _, rec := range head {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}

	for _, entry := range append(append([]RosterEntry{}, report.Present...), report.Absent...) {
		row := []string{entry.Username, entry.FullName, exportTime(entry.Timestamp), statusLabel(entry.Status), ""}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	summary := [][]string{
		{},
		{"SUMMARY"},
		{"Total", strconv.Itoa(report.Total)},
		{"Present", strconv.Itoa(report.PresentCount)},
		{"Late", strconv.Itoa(report.LateCount)},
		{"Absent", strconv.Itoa(report.AbsentCount)},
	}
	for _, rec := range summary {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv summary: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteRosterExcel renders the roster as an Excel 2003 SpreadsheetML
// workbook, which every spreadsheet application opens without an import
// dialog.
func WriteRosterExcel(w io.Writer, report *RosterReport, teacher *models.User, lateThresholdMinutes int) error {
	var rows strings.Builder
	row := func(cells ...string) {
		rows.WriteString("<Row>")
		for _, c := range cells {
			rows.WriteString(`<Cell><Data ss:Type="String">`)
			xml.EscapeText(&rows, []byte(c))
			rows.WriteString("</Data></Cell>")
		}
		rows.WriteString("</Row>\n")
	}

	sess := report.Session
	row("ATTENDANCE REPORT")
	row("")
	row("Teacher", teacher.FullName)
	row("Topic", sess.Topic)
	row("Session", sess.ID)
	row("Started", exportTime(sess.StartedAt))
	row("Expires", exportTime(sess.ExpiresAt))
	row("Late rule", fmt.Sprintf("late after %d min", lateThresholdMinutes))
	row("")
	row("Student", "Full name", "Time (UTC)", "Status", "Signature")
	for _, entry := range append(append([]RosterEntry{}, report.Present...), report.Absent...) {
		row(entry.Username, entry.FullName, exportTime(entry.Timestamp), statusLabel(entry.Status), "")
	}
	row("")
	row("SUMMARY")
	row("Total", strconv.Itoa(report.Total))
	row("Present", strconv.Itoa(report.PresentCount))
	row("Late", strconv.Itoa(report.LateCount))
	row("Absent", strconv.Itoa(report.AbsentCount))

	workbook := `<?xml version="1.0" encoding="UTF-8"?>
<?mso-application progid="Excel.Sheet"?>
<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet"
 xmlns:o="urn:schemas-microsoft-com:office:office"
 xmlns:x="urn:schemas-microsoft-com:office:excel"
 xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet">
 <Worksheet ss:Name="Attendance">
  <Table>
` + rows.String() + `  </Table>
 </Worksheet>
</Workbook>
`
	if _, err := io.WriteString(w, workbook); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
