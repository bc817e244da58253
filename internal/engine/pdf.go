package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf/v2"
)

func newDoc() *gofpdf.Fpdf {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 11)
	return pdf
}

// renderMono writes the translated text as a single document.
func renderMono(path string, translated []string) error {
	pdf := newDoc()
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for i, block := range translated {
		if i > 0 {
			pdf.Ln(6)
		}
		pdf.MultiCell(0, 5.5, tr(block), "", "L", false)
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// renderDual interleaves each source block with its translation.
func renderDual(path string, source, translated []string) error {
	pdf := newDoc()
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for i := range source {
		if i > 0 {
			pdf.Ln(8)
		}
		pdf.SetTextColor(110, 110, 110)
		pdf.MultiCell(0, 5.5, tr(source[i]), "", "L", false)
		pdf.Ln(3)
		pdf.SetTextColor(0, 0, 0)
		block := ""
		if i < len(translated) {
			block = translated[i]
		}
		pdf.MultiCell(0, 5.5, tr(block), "", "L", false)
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// SupportedInput reports whether the engine can translate the given
// filename. The reference engine handles plain text and markdown.
func SupportedInput(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		return true
	default:
		return false
	}
}
