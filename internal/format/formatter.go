// Package format renders alert listings for the CLI.
package format

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/leakwatch/leakwatch/internal/claim"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatJSONL OutputFormat = "jsonl"
	FormatCSV   OutputFormat = "csv"
)

// Formatter renders a slice of alerts.
type Formatter interface {
	FormatStream(alerts []claim.AlertRecord, w io.Writer) error
}

// JSONFormatter renders the full listing as one JSON document.
type JSONFormatter struct {
	Indent bool
}

func NewJSONFormatter(indent bool) *JSONFormatter {
	return &JSONFormatter{Indent: indent}
}

func (f *JSONFormatter) FormatStream(alerts []claim.AlertRecord, w io.Writer) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(alerts)
}

// JSONLFormatter renders one JSON object per line, for piping into jq or
// a log shipper.
type JSONLFormatter struct{}

func NewJSONLFormatter() *JSONLFormatter {
	return &JSONLFormatter{}
}

func (f *JSONLFormatter) FormatStream(alerts []claim.AlertRecord, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for _, a := range alerts {
		if err := encoder.Encode(a); err != nil {
			return err
		}
	}
	return nil
}

// CSVFormatter renders a header row plus one row per alert.
type CSVFormatter struct{}

func NewCSVFormatter() *CSVFormatter {
	return &CSVFormatter{}
}

func (f *CSVFormatter) FormatStream(alerts []claim.AlertRecord, w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{
		"id", "org_id", "identifier_id", "source", "confidence",
		"low_priority", "acknowledged", "created_at", "message",
	})
	for _, a := range alerts {
		cw.Write([]string{
			a.ID,
			a.OrgID,
			a.IdentifierID,
			a.Source,
			string(a.Confidence),
			fmt.Sprintf("%t", a.LowPriority),
			fmt.Sprintf("%t", a.Acknowledged),
			a.CreatedAt.Format(time.RFC3339),
			a.Message,
		})
	}
	cw.Flush()
	return cw.Error()
}

// GetFormatter returns a formatter for the specified format.
func GetFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatJSON:
		return NewJSONFormatter(true), nil
	case FormatJSONL:
		return NewJSONLFormatter(), nil
	case FormatCSV:
		return NewCSVFormatter(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// ParseFormat parses a format string.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}
