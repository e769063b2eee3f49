// Package testpdf writes small, well-formed PDF documents with AcroForm fields
// and text for tests.
package testpdf

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// Page dimensions of every generated page
const (
	PageWidth  = 612
	PageHeight = 792
)

// Field is one terminal form field with a single merged widget
type Field struct {
	Name  string
	Type  string // Tx, Btn, Ch or Sig
	Flags int
	Rect  [4]float64
	Page  int // 1-based
}

// Text is one line drawn in Helvetica
type Text struct {
	X, Y float64
	Size float64
	Text string
	Page int // 1-based
}

// Document describes the generated file
type Document struct {
	Pages  int
	Fields []Field
	Texts  []Text
}

// Write renders doc to path
func Write(path string, doc Document) error {
	return os.WriteFile(path, Bytes(doc), 0o600)
}

// Bytes renders doc
func Bytes(doc Document) []byte {
	if doc.Pages < 1 {
		doc.Pages = 1
	}

	// object numbers: 1 catalog, 2 pages, 3 font, then per page (page, content), then fields
	const fontObj = 3
	pageObj := func(p int) int { return 4 + 2*(p-1) }
	contentObj := func(p int) int { return 5 + 2*(p-1) }
	fieldObj := func(i int) int { return 4 + 2*doc.Pages + i }

	objects := make(map[int]string)

	var fieldRefs []string
	for i := range doc.Fields {
		fieldRefs = append(fieldRefs, fmt.Sprintf("%d 0 R", fieldObj(i)))
	}
	objects[1] = fmt.Sprintf("<< /Type /Catalog /Pages 2 0 R /AcroForm << /Fields [%s] >> >>",
		strings.Join(fieldRefs, " "))

	var kids []string
	for p := 1; p <= doc.Pages; p++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", pageObj(p)))
	}
	objects[2] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), doc.Pages)

	widths := strings.TrimSpace(strings.Repeat("500 ", 95))
	objects[fontObj] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /FirstChar 32 /LastChar 126 /Widths [" +
		widths + "] >>"

	for p := 1; p <= doc.Pages; p++ {
		var annots []string
		for i, f := range doc.Fields {
			if pageOf(f.Page) == p {
				annots = append(annots, fmt.Sprintf("%d 0 R", fieldObj(i)))
			}
		}
		objects[pageObj(p)] = fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R /Annots [%s] >>",
			PageWidth, PageHeight, fontObj, contentObj(p), strings.Join(annots, " "))

		var content strings.Builder
		for _, t := range doc.Texts {
			if pageOf(t.Page) != p {
				continue
			}
			size := t.Size
			if size == 0 {
				size = 12
			}
			fmt.Fprintf(&content, "BT /F1 %g Tf %g %g Td (%s) Tj ET\n", size, t.X, t.Y, escape(t.Text))
		}
		objects[contentObj(p)] = fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", content.Len(), content.String())
	}

	for i, f := range doc.Fields {
		objects[fieldObj(i)] = fmt.Sprintf(
			"<< /Type /Annot /Subtype /Widget /FT /%s /Ff %d /T (%s) /Rect [%g %g %g %g] /P %d 0 R /F 4 >>",
			f.Type, f.Flags, escape(f.Name), f.Rect[0], f.Rect[1], f.Rect[2], f.Rect[3], pageObj(pageOf(f.Page)))
	}

	size := fieldObj(len(doc.Fields))
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, size)
	for n := 1; n < size; n++ {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, objects[n])
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", size)
	for n := 1; n < size; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, xref)
	return buf.Bytes()
}

func pageOf(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(s)
}
