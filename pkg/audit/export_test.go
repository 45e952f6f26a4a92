package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportFixture() []*Event {
	return []*Event{
		{
			ID:        "ev-1",
			Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Action:    ActionWrite,
			UserID:    "u1",
			FieldName: "jwt_secret",
			OldValue:  "old-jwt-secret-value",
			NewValue:  "new-jwt-secret-value",
			Severity:  SeverityWarning,
			Success:   true,
		},
		{
			ID:        "ev-2",
			Timestamp: time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC),
			Action:    ActionRead,
			UserID:    "u2",
			FieldName: "app_name",
			Severity:  SeverityInfo,
			Success:   true,
		},
	}
}

func TestExportJSON(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormatJSON)
	require.NoError(t, err)

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)

	// Masking applies on the way out.
	assert.Equal(t, "ol...ue", decoded[0]["old_value"])
	assert.NotContains(t, string(data), "new-jwt-secret-value")
}

func TestExportNDJSON(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormatNDJSON)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var e map[string]interface{}
		assert.NoError(t, json.Unmarshal([]byte(line), &e))
	}
}

func TestExportCSV(t *testing.T) {
	data, err := Export(exportFixture(), ExportFormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3) // header + 2 rows

	assert.Equal(t, "ID", records[0][0])
	assert.Equal(t, "ev-1", records[1][0])
	assert.Equal(t, "ol...ue", records[1][6])
	assert.Equal(t, "ne...ue", records[1][7])
	assert.Equal(t, "app_name", records[2][5])
}

func TestExportUnsupportedFormat(t *testing.T) {
	_, err := Export(exportFixture(), ExportFormat("xml"))
	assert.Error(t, err)
}
