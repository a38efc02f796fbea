// Package pdftest builds small self-consistent PDF files for tests.
// Offsets in the xref table are computed while writing, so fixtures
// stay valid as object bodies change.
package pdftest

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Object is one indirect object, generation 0.
type Object struct {
	Num  int
	Body string
}

// Stream formats a stream object body with a correct /Length entry.
// extraDict goes inside the dictionary, e.g. "/Subtype /Image".
func Stream(extraDict, payload string) string {
	sep := ""
	if extraDict != "" {
		sep = " "
	}
	return fmt.Sprintf("<< /Length %d%s%s >>\nstream\n%s\nendstream", len(payload), sep, extraDict, payload)
}

// GrayImage returns a tiny uncompressed grayscale image XObject body.
func GrayImage(w, h int) string {
	payload := strings.Repeat("\x80", w*h)
	return Stream(fmt.Sprintf("/Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8", w, h), payload)
}

// GrayImageWithSMask is GrayImage plus an /SMask reference.
func GrayImageWithSMask(w, h, smaskNum int) string {
	payload := strings.Repeat("\x80", w*h)
	return Stream(fmt.Sprintf("/Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8 /SMask %d 0 R", w, h, smaskNum), payload)
}

// File assembles a classic-xref PDF from the given objects. Object 1
// must be the catalog; the trailer points /Root at it.
func File(objs ...Object) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	offsets := make(map[int]int)
	maxNum := 0
	sorted := append([]Object(nil), objs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Num < sorted[j].Num })
	for _, o := range sorted {
		offsets[o.Num] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", o.Num, o.Body)
		if o.Num > maxNum {
			maxNum = o.Num
		}
	}
	xrefPos := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", maxNum+1)
	b.WriteString("0000000000 65535 f \n")
	for i := 1; i <= maxNum; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(&b, "%010d 00000 n \n", off)
		} else {
			b.WriteString("0000000000 65535 f \n")
		}
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", maxNum+1, xrefPos)
	return b.Bytes()
}

// PageSpec describes one page of a generated document.
type PageSpec struct {
	// Content is the page's content stream source.
	Content string
	// XObjects maps resource names to object numbers of extra objects.
	XObjects map[string]int
	// ExtGStates maps gs names to object numbers.
	ExtGStates map[string]int
}

// Doc builds a document from page specs plus any extra objects (images,
// gstates) the pages reference. Page objects are numbered from 10,
// their content streams from 100; extras should use numbers 50-99.
func Doc(pages []PageSpec, extras ...Object) []byte {
	objs := []Object{
		{Num: 1, Body: "<< /Type /Catalog /Pages 2 0 R >>"},
	}
	var kids []string
	for i, p := range pages {
		pageNum := 10 + i
		contentNum := 100 + i
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))

		var res strings.Builder
		res.WriteString("<< ")
		if len(p.XObjects) > 0 {
			res.WriteString("/XObject << ")
			for _, name := range sortedKeys(p.XObjects) {
				fmt.Fprintf(&res, "/%s %d 0 R ", name, p.XObjects[name])
			}
			res.WriteString(">> ")
		}
		if len(p.ExtGStates) > 0 {
			res.WriteString("/ExtGState << ")
			for _, name := range sortedKeys(p.ExtGStates) {
				fmt.Fprintf(&res, "/%s %d 0 R ", name, p.ExtGStates[name])
			}
			res.WriteString(">> ")
		}
		res.WriteString(">>")

		objs = append(objs,
			Object{Num: pageNum, Body: fmt.Sprintf(
				"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources %s /Contents %d 0 R >>",
				res.String(), contentNum)},
			Object{Num: contentNum, Body: Stream("", p.Content)},
		)
	}
	objs = append(objs, Object{Num: 2, Body: fmt.Sprintf(
		"<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))})
	objs = append(objs, extras...)
	return File(objs...)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
