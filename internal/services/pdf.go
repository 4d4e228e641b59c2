package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoPDFText indicates the document parsed but carried no extractable text
// (typically a scanned PDF).
var ErrNoPDFText = errors.New("no text could be extracted from the PDF")

type PDFService struct{}

func NewPDFService() *PDFService {
	return &PDFService{}
}

// ExtractText returns the plain text of every page in data.
func (s *PDFService) ExtractText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	if r.NumPage() == 0 {
		return "", fmt.Errorf("pdf has no pages")
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", ErrNoPDFText
	}
	return text, nil
}

// LooksLikePDF checks the file signature.
func LooksLikePDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}
