package textextract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrUnsupportedType = errors.New("unsupported file type")

type ExtractedText struct {
	Content  string
	Pages    int
	Metadata map[string]string
}

// Extract returns the plain text of data. fileType may be an extension
// (".pdf", "pdf") or a MIME type.
func Extract(data io.ReaderAt, size int64, fileType string) (*ExtractedText, error) {
	switch NormalizeType(fileType) {
	case ".pdf":
		return extractPDF(data, size)
	case ".docx":
		return extractDOCX(data, size)
	case ".txt", ".md":
		return extractTXT(data, size, NormalizeType(fileType))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
}

// ExtractBytes is Extract over an in-memory upload.
func ExtractBytes(data []byte, fileType string) (*ExtractedText, error) {
	return Extract(bytes.NewReader(data), int64(len(data)), fileType)
}

func SupportedTypes() []string {
	return []string{".pdf", ".docx", ".txt", ".md"}
}

// NormalizeType maps extensions and MIME types onto a lower-case extension
// with a leading dot. Unknown types are returned lower-cased.
func NormalizeType(fileType string) string {
	t := strings.ToLower(strings.TrimSpace(fileType))
	switch t {
	case "pdf", "application/pdf":
		return ".pdf"
	case "docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "txt", "text/plain":
		return ".txt"
	case "md", "text/markdown":
		return ".md"
	}
	return t
}

// ExtensionOf returns the normalized extension of filename.
func ExtensionOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func extractPDF(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	return &ExtractedText{
		Content: strings.TrimSpace(buf.String()),
		Pages:   numPages,
		Metadata: map[string]string{
			"type": "pdf",
		},
	}, nil
}

func extractDOCX(data io.ReaderAt, size int64) (*ExtractedText, error) {
	reader, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open DOCX: %w", err)
	}

	var content string
	for _, f := range reader.File {
		if f.Name != "word/document.xml" && filepath.Base(f.Name) != "document.xml" {
			continue
		}
		raw, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		content = stripXMLTags(string(raw))
		break
	}

	return &ExtractedText{
		Content: content,
		Pages:   1,
		Metadata: map[string]string{
			"type": "docx",
		},
	}, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return raw, nil
}

func extractTXT(data io.ReaderAt, size int64, ext string) (*ExtractedText, error) {
	buf := make([]byte, size)
	_, err := data.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s: %w", ext, err)
	}

	text := strings.ToValidUTF8(string(bytes.TrimSpace(buf)), "�")
	return &ExtractedText{
		Content: text,
		Pages:   1,
		Metadata: map[string]string{
			"type": strings.TrimPrefix(ext, "."),
		},
	}, nil
}

func stripXMLTags(s string) string {
	var result strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			result.WriteRune(' ')
		case !inTag:
			result.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(result.String()), " ")
}
