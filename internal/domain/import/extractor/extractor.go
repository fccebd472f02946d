// Package extractor turns an uploaded statement file into per-page text and,
// for scans, a normalized page image for the vision pass.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dslipak/pdf"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/sniffer"
)

var (
	// ErrNoPages is returned when a document yields no pages at all.
	ErrNoPages = errors.New("no pages extracted")
	// ErrUnreadable is returned when the bytes are neither a PDF nor an image.
	ErrUnreadable = errors.New("unreadable document")
)

// MaxImageSide bounds the longest side of an image sent to the vision model.
const MaxImageSide = 2000

// Page is one physical page of a statement.
type Page struct {
	Number int
	Text   string
}

// Document is an extracted statement file. Image holds what the vision pass
// receives alongside a page's text: the original PDF bytes or a normalized PNG.
type Document struct {
	Pages         []Page
	Image         []byte
	ImageMIMEType string
	// Degraded is set when per-page extraction failed and the whole document
	// text was placed on a single page.
	Degraded bool
}

// Extract reads a PDF or image file.
func Extract(kind sniffer.Kind, data []byte) (*Document, error) {
	switch kind {
	case sniffer.KindPDF:
		pages, degraded, err := PDFPages(data)
		if err != nil {
			return nil, err
		}
		return &Document{Pages: pages, Image: data, ImageMIMEType: kind.MIMEType(), Degraded: degraded}, nil
	case sniffer.KindImage:
		img, err := NormalizeImage(data)
		if err != nil {
			return nil, err
		}
		return &Document{Pages: []Page{{Number: 1}}, Image: img, ImageMIMEType: kind.MIMEType()}, nil
	}
	return nil, fmt.Errorf("%w: kind %s", ErrUnreadable, kind)
}

// PDFPages returns the text of every page in order. When page-level text
// extraction fails the whole document's plain text becomes page 1 and
// degraded is true.
func PDFPages(data []byte) (pages []Page, degraded bool, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages, degraded, err = nil, false, fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, false, ErrNoPages
	}

	pages, err = readPageTexts(reader, total)
	if err == nil {
		return pages, false, nil
	}

	text, ferr := plainText(reader)
	if ferr != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnreadable, errors.Join(err, ferr))
	}
	return []Page{{Number: 1, Text: text}}, true, nil
}

// readPageTexts is swapped in tests to force the whole-document fallback.
var readPageTexts = pageTexts

func pageTexts(reader *pdf.Reader, total int) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page text: %v", r)
		}
	}()

	pages = make([]Page, 0, total)
	for i := 1; i <= total; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			pages = append(pages, Page{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: strings.TrimSpace(text)})
	}
	return pages, nil
}

func plainText(reader *pdf.Reader) (string, error) {
	r, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// NormalizeImage decodes a PNG or JPEG scan, applies EXIF orientation, bounds
// it to MaxImageSide, converts it to grayscale and re-encodes it as PNG.
func NormalizeImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	b := img.Bounds()
	if b.Dx() > MaxImageSide || b.Dy() > MaxImageSide {
		img = imaging.Fit(img, MaxImageSide, MaxImageSide, imaging.Lanczos)
	}
	gray := imaging.Grayscale(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode page image: %w", err)
	}
	return buf.Bytes(), nil
}

// HasText reports whether any page carries extractable text.
func (d *Document) HasText() bool {
	for _, p := range d.Pages {
		if p.Text != "" {
			return true
		}
	}
	return false
}
