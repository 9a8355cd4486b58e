package render

import (
	"bytes"
	"fmt"

	pdf "github.com/ledongthuc/pdf"
)

// Inspect parses the PDF structure and returns the page count without
// rendering anything. Used as a pre-flight check and by the ctl CLI.
func Inspect(data []byte) (int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return reader.NumPage(), nil
}
