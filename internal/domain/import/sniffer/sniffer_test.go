package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		head     string
		expected Kind
	}{
		{"xml declaration", "izvod.xml", `<?xml version="1.0"?><Document>`, KindCAMT},
		{"document root without declaration", "export.txt", `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">`, KindCAMT},
		{"bom and whitespace before xml", "a.bin", "\xEF\xBB\xBF\n  <?xml version=\"1.0\"?>", KindCAMT},
		{"xml extension with odd body", "izvod.XML", "garbage", KindCAMT},
		{"pdf magic", "scan", "%PDF-1.7\n", KindPDF},
		{"pdf extension", "izvod.pdf", "", KindPDF},
		{"png magic", "x", "\x89PNG\r\n\x1a\n....", KindImage},
		{"jpeg extension", "slika.JPEG", "", KindImage},
		{"unknown", "notes.docx", "PK\x03\x04", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Detect(tt.fileName, []byte(tt.head)))
		})
	}
}

func TestKind_MIMEType(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindCAMT, "application/xml"},
		{KindPDF, "application/pdf"},
		{KindImage, "image/png"},
		{KindUnknown, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.MIMEType())
		})
	}
	assert.True(t, KindCAMT.IsStructured())
	assert.False(t, KindPDF.IsStructured())
}

func TestChecksumBytes(t *testing.T) {
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	assert.Equal(t, empty, ChecksumBytes(nil))
	assert.Equal(t, ChecksumBytes([]byte("izvod")), ChecksumBytes([]byte("izvod")))
	assert.NotEqual(t, ChecksumBytes([]byte("izvod 1")), ChecksumBytes([]byte("izvod 2")))
}
