package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/retry"
)

func TestWriteObject(t *testing.T) {
	obj := map[string]any{"correlationId": "corr-1", "count": 2}

	tests := []struct {
		name     string
		format   Format
		contains string
		wantErr  bool
	}{
		{name: "json", format: FormatJSON, contains: `"correlationId": "corr-1"`},
		{name: "yaml", format: FormatYAML, contains: "correlationId: corr-1"},
		{name: "table needs formatter", format: FormatTable, wantErr: true},
		{name: "unknown", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			err := WriteObject(buf, tt.format, obj)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, buf.String(), tt.contains)
		})
	}
}

func TestWriteObject_YAMLUsesJSONFieldNames(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteObject(buf, FormatYAML, audit.Record{CorrelationID: "corr-1", ResourceID: "LAPTOP-17"}))
	assert.Contains(t, buf.String(), "resourceId: LAPTOP-17")
	assert.NotContains(t, buf.String(), "resourceid")
}

func TestFormatValid(t *testing.T) {
	assert.True(t, FormatTable.Valid())
	assert.True(t, FormatYAML.Valid())
	assert.False(t, Format("wide").Valid())
}

func TestWriteAuditTable(t *testing.T) {
	buf := &bytes.Buffer{}
	WriteAuditTable(buf, []audit.Record{{
		Module: "SECURITY", Action: "ACCESS_REVOKED", ResourceType: "Access", ResourceID: "42",
		UserID: "system:security.revoke-access", Status: audit.StatusSuccess,
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ACTION")
	assert.Contains(t, lines[1], "2026-03-01T09:00:00Z")
	assert.Contains(t, lines[1], "Access/42")
}

func TestWriteDeadLetterTable_TruncatesErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	WriteDeadLetterTable(buf, []retry.DeadLetter{{
		ID: "dl-1", Event: event.DomainEvent{Type: event.EmployeeOnboarded}, HandlerID: "security.provision-access",
		Attempts: 5, LastError: strings.Repeat("x", 100),
	}})
	assert.Contains(t, buf.String(), strings.Repeat("x", 57)+"...")
	assert.Contains(t, buf.String(), "-")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
