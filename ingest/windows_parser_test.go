package ingest

import (
	"encoding/json"
	"testing"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindowsEventLogonSuccess(t *testing.T) {
	raw := `{"Id":4624,"RecordId":10023,"TimeCreated":"2026-01-18T10:30:45Z","MachineName":"WIN-DC01","ProviderName":"Microsoft-Windows-Security-Auditing","Properties":["S-1-5-18","WIN-DC01$","WORKGROUP","0x3e7","S-1-5-21-1-2-3-1001","jsmith","CORP","0xabc123","3","Kerberos","","{00000000-0000-0000-0000-000000000000}","-","-",0,"0x2a8","C:\\Windows\\System32\\lsass.exe","-","10.0.0.55","49832"]}`
	event := ParseWindowsEvent(raw)
	require.NotNil(t, event)

	assert.Equal(t, core.SourceWindows, event.Source)
	assert.Equal(t, "authentication", event.EventType)
	assert.Equal(t, core.SeverityInfo, event.Severity)
	assert.Equal(t, "Successful logon", event.Description)
	assert.Equal(t, "WIN-DC01", event.Hostname)
	assert.Equal(t, "jsmith", event.User)
	assert.Equal(t, 4624, event.ParsedData["event_id"])
	assert.Equal(t, "Network", event.ParsedData["logon_type"])
	assert.Equal(t, "3", event.ParsedData["logon_type_code"])
	assert.Equal(t, "10.0.0.55", event.ParsedData["source_ip"])
	assert.Equal(t, int64(10023), event.ParsedData["record_id"])
	assert.Equal(t, 2026, event.Timestamp.Year())
}

func TestParseWindowsEventLogonFailure(t *testing.T) {
	props := make([]any, 21)
	for i := range props {
		props[i] = "-"
	}
	props[5] = "administrator"
	props[10] = float64(10)
	props[19] = "203.0.113.50"

	event := ParseWindowsEvent(mustWindowsJSON(t, 4625, props))

	assert.Equal(t, "authentication", event.EventType)
	assert.Equal(t, core.SeverityWarning, event.Severity)
	assert.Equal(t, "administrator", event.User)
	assert.Equal(t, "RemoteInteractive", event.ParsedData["logon_type"])
	assert.Equal(t, "203.0.113.50", event.ParsedData["source_ip"])
}

func TestParseWindowsEventProcessCreateTempPath(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		suspicious bool
	}{
		{"windows temp", `C:\Windows\Temp\payload.exe`, true},
		{"appdata temp", `C:\Users\bob\AppData\Local\Temp\dropper.exe`, true},
		{"unix tmp", `/tmp/reverse_shell`, true},
		{"program files", `C:\Program Files\Vendor\app.exe`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := make([]any, 9)
			for i := range props {
				props[i] = "-"
			}
			props[1] = "bob"
			props[5] = tt.path
			props[8] = tt.path + " --install"

			event := ParseWindowsEvent(mustWindowsJSON(t, 4688, props))

			assert.Equal(t, "process", event.EventType)
			assert.Equal(t, tt.path, event.ParsedData["process_path"])
			if tt.suspicious {
				assert.Equal(t, core.SeverityWarning, event.Severity)
				assert.Contains(t, event.Description, "Suspicious process")
			} else {
				assert.Equal(t, core.SeverityInfo, event.Severity)
				assert.Equal(t, "New process created", event.Description)
			}
		})
	}
}

func TestParseWindowsEventClassificationTable(t *testing.T) {
	tests := []struct {
		eventID   int
		eventType string
		severity  string
	}{
		{4634, "authentication", core.SeverityInfo},
		{4648, "authentication", core.SeverityWarning},
		{4672, "privilege", core.SeverityWarning},
		{4697, "service", core.SeverityWarning},
		{4698, "scheduled_task", core.SeverityWarning},
		{4719, "policy", core.SeverityCritical},
		{4720, "account", core.SeverityWarning},
		{4740, "account", core.SeverityWarning},
		{4663, "file_access", core.SeverityInfo},
		{1102, "security", core.SeverityCritical},
	}

	for _, tt := range tests {
		event := ParseWindowsEvent(mustWindowsJSON(t, tt.eventID, []any{}))
		assert.Equal(t, tt.eventType, event.EventType, "event %d", tt.eventID)
		assert.Equal(t, tt.severity, event.Severity, "event %d", tt.eventID)
	}
}

func TestParseWindowsEventAccountTarget(t *testing.T) {
	props := []any{"svc_new", "CORP", "S-1-5-21-9", "0x0", "admin_jane"}
	event := ParseWindowsEvent(mustWindowsJSON(t, 4720, props))

	assert.Equal(t, "svc_new", event.ParsedData["target_user"])
	assert.Equal(t, "admin_jane", event.User)
}

func TestParseWindowsEventUnmappedID(t *testing.T) {
	event := ParseWindowsEvent(`{"Id":5156,"TimeCreated":"2026-01-18T10:30:45Z","MachineName":"WIN-FS01","Properties":[]}`)

	assert.Equal(t, "windows", event.EventType)
	assert.Equal(t, core.SeverityInfo, event.Severity)
	assert.Equal(t, "Windows event 5156", event.Description)
}

func TestParseWindowsEventEventIdKey(t *testing.T) {
	event := ParseWindowsEvent(`{"EventId":1102,"TimeCreated":"2026-01-18T10:30:45Z","MachineName":"WIN-DC01","Properties":[]}`)
	assert.Equal(t, "security", event.EventType)
	assert.Equal(t, 1102, event.ParsedData["event_id"])
}

func TestParseWindowsEventDotNetTimestamp(t *testing.T) {
	event := ParseWindowsEvent(`{"Id":4624,"TimeCreated":"/Date(1768732245000)/","MachineName":"WIN-DC01","Properties":[]}`)
	assert.Equal(t, 2026, event.Timestamp.Year())
}

func TestParseWindowsEventInvalidJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "this is not json"},
		{"truncated", `{"Id":4624,"TimeCr`},
		{"wrong type", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := ParseWindowsEvent(tt.raw)
			require.NotNil(t, event)
			assert.Equal(t, "system", event.EventType)
			assert.Equal(t, core.SeverityInfo, event.Severity)
			assert.Equal(t, "non-json", event.ParsedData["format"])
			assert.Equal(t, tt.raw, event.Description)
		})
	}
}

func mustWindowsJSON(t *testing.T, eventID int, props []any) string {
	t.Helper()
	rec := map[string]any{
		"Id":          eventID,
		"TimeCreated": "2026-01-18T10:30:45Z",
		"MachineName": "WIN-TEST",
		"Properties":  props,
	}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(raw)
}
