package export

import (
	"fmt"
	"os"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/cisentry/cisentry/internal/models"
)

// pdfDetailCap bounds the detail table; larger exports get a footnote.
const pdfDetailCap = 50

// WritePDFFile renders a paginated letter-size incident report to path and
// returns the file size. The report opens with a summary block (counts by
// severity) followed by a detail table capped at the first 50 rows.
func WritePDFFile(incidents []models.Incident, path string) (int64, error) {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Incident Report")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 9)
	pdf.Cell(0, 6, fmt.Sprintf("Generated %s — %d incidents", time.Now().UTC().Format("2006-01-02 15:04 UTC"), len(incidents)))
	pdf.Ln(10)

	bySeverity := map[string]int{}
	for i := range incidents {
		bySeverity[incidents[i].Severity]++
	}
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 7, "Summary by severity")
	pdf.Ln(7)
	pdf.SetFont("Helvetica", "", 10)
	for _, sev := range []string{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
		if n := bySeverity[sev]; n > 0 {
			pdf.Cell(0, 6, fmt.Sprintf("  %s: %d", sev, n))
			pdf.Ln(6)
		}
	}
	pdf.Ln(4)

	headers := []string{"ID", "Created", "Source", "Severity", "Outcome", "Error"}
	widths := []float64{30, 28, 22, 20, 22, 74}

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	rows := incidents
	if len(rows) > pdfDetailCap {
		rows = rows[:pdfDetailCap]
	}
	for i := range rows {
		inc := &rows[i]
		cells := []string{
			truncate(inc.ID, 12),
			inc.CreatedAt.UTC().Format("2006-01-02 15:04"),
			truncate(inc.Source, 14),
			inc.Severity,
			inc.Outcome,
			truncate(inc.ErrorMessage, 60),
		}
		for j, c := range cells {
			pdf.CellFormat(widths[j], 6, c, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(incidents) > pdfDetailCap {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.Cell(0, 5, fmt.Sprintf("Showing first %d of %d incidents.", pdfDetailCap, len(incidents)))
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return 0, fmt.Errorf("write pdf: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
