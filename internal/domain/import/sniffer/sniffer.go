// Package sniffer detects the kind of an uploaded bank statement file from its
// name and leading bytes, and fingerprints its content.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Kind is the detected shape of a statement file.
type Kind string

const (
	KindCAMT    Kind = "camt"    // ISO 20022 camt.053 XML
	KindPDF     Kind = "pdf"     // PDF with or without a text layer
	KindImage   Kind = "image"   // PNG or JPEG scan
	KindUnknown Kind = "unknown" // anything else, still routed to the AI path
)

// HeadSize is how many leading bytes Detect needs to decide.
const HeadSize = 512

var (
	pdfMagic  = []byte("%PDF-")
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
)

// Detect returns the kind of a file. Content wins over the extension so a
// camt export saved as ".txt" is still parsed structurally.
func Detect(fileName string, head []byte) Kind {
	if kind := detectContent(head); kind != KindUnknown {
		return kind
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xml":
		return KindCAMT
	case ".pdf":
		return KindPDF
	case ".png", ".jpg", ".jpeg":
		return KindImage
	}
	return KindUnknown
}

// IsStructured reports whether the kind goes through the deterministic XML path.
func (k Kind) IsStructured() bool {
	return k == KindCAMT
}

// MIMEType returns the content type of the extracted document image. Scans
// are re-encoded as PNG before they reach the vision pass.
func (k Kind) MIMEType() string {
	switch k {
	case KindCAMT:
		return "application/xml"
	case KindPDF:
		return "application/pdf"
	case KindImage:
		return "image/png"
	}
	return "application/octet-stream"
}

func detectContent(head []byte) Kind {
	b := bytes.TrimPrefix(head, utf8BOM)
	switch {
	case bytes.HasPrefix(b, pdfMagic):
		return KindPDF
	case bytes.HasPrefix(b, pngMagic), bytes.HasPrefix(b, jpegMagic):
		return KindImage
	}

	b = bytes.TrimLeft(b, " \t\r\n")
	if bytes.HasPrefix(b, []byte("<?xml")) || bytes.HasPrefix(b, []byte("<Document")) {
		return KindCAMT
	}
	return KindUnknown
}

// ChecksumBytes returns the hex SHA-256 of data.
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
