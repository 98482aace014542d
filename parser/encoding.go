package parser

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/orgpulse/contrib-engine/contrib"
)

// =============================================================================
// CSV ENCODING FALLBACK
// =============================================================================

// decodeText converts raw CSV bytes to a UTF-8 string, trying utf-8, then
// latin-1, then cp1252, first success wins. Exported uploads come from a mix
// of spreadsheet editors and the encoding is rarely declared.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	for _, cm := range []*charmap.Charmap{charmap.ISO8859_1, charmap.Windows1252} {
		decoded, err := cm.NewDecoder().Bytes(data)
		if err == nil {
			return string(decoded), nil
		}
	}
	return "", fmt.Errorf("%w: undecodable text content", contrib.ErrInvalidFileFormat)
}

// isWorkbook sniffs the ZIP binary signature. Extension is untrustworthy:
// uploads named .csv are frequently exported workbooks.
func isWorkbook(data []byte) bool {
	return len(data) >= 2 && data[0] == 'P' && data[1] == 'K'
}
