package app

import (
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/hyperifyio/zissou/internal/pipeline"
)

// writeTranscriptPDF renders a printable transcript: title, byline, source
// link and the normalized text paragraph by paragraph.
func writeTranscriptPDF(res *pipeline.Result, outPath string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(res.Title), false)
	pdf.SetAuthor(tr(res.Author), false)
	pdf.AddPage()

	title := res.Title
	if strings.TrimSpace(title) == "" {
		title = "Untitled"
	}
	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 8, tr(title), "", "L", false)

	pdf.SetFont("Helvetica", "", 9)
	var byline []string
	if res.Author != "" {
		byline = append(byline, res.Author)
	}
	if res.SiteName != "" {
		byline = append(byline, res.SiteName)
	}
	if res.PublishedAt != nil {
		byline = append(byline, res.PublishedAt.Format("January 2, 2006"))
	}
	if len(byline) > 0 {
		pdf.CellFormat(0, 5, tr(strings.Join(byline, " / ")), "", 1, "L", false, 0, "")
	}
	pdf.SetTextColor(0, 0, 200)
	pdf.WriteLinkString(5, tr(res.URL), res.URL)
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 11)
	for _, para := range strings.Split(res.Text, "\n\n") {
		if para = strings.TrimSpace(para); para == "" {
			continue
		}
		pdf.MultiCell(0, 5, tr(para), "", "L", false)
		pdf.Ln(3)
	}
	return pdf.OutputFileAndClose(outPath)
}
