package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportFormat represents the format for exporting audit events
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// Export serializes events in the requested format.
func Export(events []*Event, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return exportJSON(events)
	case ExportFormatCSV:
		return exportCSV(events)
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportJSON(events []*Event) ([]byte, error) {
	return json.MarshalIndent(events, "", "  ")
}

func exportNDJSON(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func exportCSV(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"Action",
		"UserID",
		"UserEmail",
		"FieldName",
		"OldValue",
		"NewValue",
		"Environment",
		"Severity",
		"IPAddress",
		"RequestID",
		"Success",
		"ErrorMessage",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		oldValue, newValue := "", ""
		if event.OldValue != nil {
			oldValue = maskedString(event, event.OldValue)
		}
		if event.NewValue != nil {
			newValue = maskedString(event, event.NewValue)
		}
		row := []string{
			event.ID,
			event.Timestamp.Format(time.RFC3339),
			string(event.Action),
			event.UserID,
			event.UserEmail,
			event.FieldName,
			oldValue,
			newValue,
			event.Environment,
			string(event.Severity),
			event.IPAddress,
			event.RequestID,
			strconv.FormatBool(event.Success),
			event.ErrorMessage,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// maskedString applies the same masking the JSON path applies.
func maskedString(event *Event, v interface{}) string {
	if IsSensitiveField(event.FieldName) {
		return MaskValue(v)
	}
	return fmt.Sprintf("%v", v)
}
