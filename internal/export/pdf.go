// Package export renders a generated thread as a PDF document.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageW    = 210.0
	pageH    = 297.0
	marginL  = 20.0
	marginR  = 20.0
	marginT  = 20.0
	contentW = pageW - marginL - marginR
	indentW  = 6.0
)

var (
	cInk90 = [3]int{38, 38, 38}
	cInk50 = [3]int{107, 107, 107}
	cInk15 = [3]int{217, 217, 217}
	cCode  = [3]int{245, 245, 242}
)

func setFill(pdf *gofpdf.Fpdf, c [3]int) { pdf.SetFillColor(c[0], c[1], c[2]) }
func setText(pdf *gofpdf.Fpdf, c [3]int) { pdf.SetTextColor(c[0], c[1], c[2]) }
func setDraw(pdf *gofpdf.Fpdf, c [3]int) { pdf.SetDrawColor(c[0], c[1], c[2]) }

// Render lays out markdown under title on A4 pages and returns the PDF bytes.
func Render(title, markdown string, generated time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginL, marginT, marginR)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(title, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	enc := func(s string) string { return tr(transliterate(s)) }

	pdf.SetFooterFunc(func() {
		pdf.SetY(-14)
		setDraw(pdf, cInk15)
		pdf.SetLineWidth(0.3)
		pdf.Line(marginL, pdf.GetY(), pageW-marginR, pdf.GetY())
		pdf.SetY(-11)
		pdf.SetFont("Helvetica", "", 7)
		setText(pdf, cInk50)
		pdf.CellFormat(contentW/2, 8, generated.Format("2 Jan 2006 15:04"), "", 0, "L", false, 0, "")
		pdf.CellFormat(contentW/2, 8, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	setText(pdf, cInk90)
	pdf.MultiCell(contentW, 8, enc(title), "", "L", false)
	pdf.Ln(4)

	for _, b := range flatten([]byte(markdown)) {
		switch b.Kind {
		case kindHeading:
			size := 14.0 - float64(b.Level)
			if size < 10 {
				size = 10
			}
			pdf.Ln(2)
			pdf.SetFont("Helvetica", "B", size)
			setText(pdf, cInk90)
			pdf.MultiCell(contentW, size*0.5, enc(b.Text), "", "L", false)
			pdf.Ln(1)
		case kindParagraph:
			pdf.SetFont("Helvetica", "", 10.5)
			setText(pdf, cInk90)
			pdf.MultiCell(contentW, 5.5, enc(b.Text), "", "L", false)
			pdf.Ln(2)
		case kindItem:
			indent := indentW * float64(b.Level+1)
			pdf.SetFont("Helvetica", "", 10.5)
			setText(pdf, cInk90)
			pdf.SetX(marginL + indent - indentW)
			pdf.CellFormat(indentW, 5.5, enc(b.Marker), "", 0, "L", false, 0, "")
			pdf.MultiCell(contentW-indent, 5.5, enc(b.Text), "", "L", false)
			pdf.Ln(1)
		case kindCode:
			pdf.SetFont("Courier", "", 9)
			setFill(pdf, cCode)
			setText(pdf, cInk90)
			pdf.MultiCell(contentW, 4.5, enc(b.Text), "", "L", true)
			pdf.Ln(2)
		case kindQuote:
			pdf.SetFont("Helvetica", "I", 10.5)
			setText(pdf, cInk50)
			pdf.SetX(marginL + indentW)
			pdf.MultiCell(contentW-indentW, 5.5, enc(b.Text), "", "L", false)
			pdf.Ln(2)
		case kindRule:
			y := pdf.GetY() + 2
			setDraw(pdf, cInk15)
			pdf.SetLineWidth(0.3)
			pdf.Line(marginL, y, pageW-marginR, y)
			pdf.Ln(5)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return buf.Bytes(), nil
}

// transliterate maps characters outside cp1252 to close ASCII forms and drops
// the rest, emoji included.
func transliterate(s string) string {
	s = replacer.Replace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x0100:
			return r
		case strings.ContainsRune("•–—‘’“”…€™", r):
			return r
		default:
			return -1
		}
	}, s)
}

var replacer = strings.NewReplacer(
	"≤", "<=", "≥", ">=",
	"→", "->", "←", "<-",
	"\u00a0", " ",
)
