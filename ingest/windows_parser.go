package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"argus/core"
)

// windowsRecord is the wire shape produced by the Windows agent, mirroring
// Get-WinEvent output serialized to JSON. Properties is positional; the
// meaning of each index depends on the event ID.
type windowsRecord struct {
	ID           int    `json:"Id"`
	EventID      int    `json:"EventId"`
	RecordID     int64  `json:"RecordId"`
	TimeCreated  string `json:"TimeCreated"`
	MachineName  string `json:"MachineName"`
	ProviderName string `json:"ProviderName"`
	Properties   []any  `json:"Properties"`
}

func (r *windowsRecord) eventID() int {
	if r.EventID != 0 {
		return r.EventID
	}
	return r.ID
}

// prop returns the property at index i as a string, or "" when the index is
// out of range. Numeric properties are rendered without an exponent so logon
// type codes survive the JSON float round-trip.
func (r *windowsRecord) prop(i int) string {
	if i < 0 || i >= len(r.Properties) {
		return ""
	}
	switch v := r.Properties[i].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

type windowsEventInfo struct {
	eventType   string
	severity    string
	description string
	enrich      func(event *core.Event, rec *windowsRecord)
}

// windowsEventTable maps well-known Security-log event IDs to classification
// and field extraction. The positional indices inside each enrich function
// follow the Windows event schema for that ID and must not be shared across
// IDs: the same logical field sits at different positions per event type.
var windowsEventTable = map[int]windowsEventInfo{
	4624: {"authentication", core.SeverityInfo, "Successful logon", enrichLogonSuccess},
	4625: {"authentication", core.SeverityWarning, "Failed logon attempt", enrichLogonFailure},
	4634: {"authentication", core.SeverityInfo, "Account logoff", enrichLogoff},
	4647: {"authentication", core.SeverityInfo, "User initiated logoff", enrichSubjectUser},
	4648: {"authentication", core.SeverityWarning, "Logon attempted with explicit credentials", enrichExplicitLogon},
	4663: {"file_access", core.SeverityInfo, "Attempt to access object", enrichObjectAccess},
	4672: {"privilege", core.SeverityWarning, "Special privileges assigned to new logon", enrichSubjectUser},
	4673: {"privilege", core.SeverityInfo, "Privileged service called", enrichSubjectUser},
	4688: {"process", core.SeverityInfo, "New process created", enrichProcessCreate},
	4689: {"process", core.SeverityInfo, "Process exited", enrichProcessExit},
	4697: {"service", core.SeverityWarning, "Service installed", enrichServiceInstall},
	4698: {"scheduled_task", core.SeverityWarning, "Scheduled task created", enrichScheduledTask},
	4699: {"scheduled_task", core.SeverityInfo, "Scheduled task deleted", enrichScheduledTask},
	4700: {"scheduled_task", core.SeverityInfo, "Scheduled task enabled", enrichScheduledTask},
	4701: {"scheduled_task", core.SeverityInfo, "Scheduled task disabled", enrichScheduledTask},
	4702: {"scheduled_task", core.SeverityInfo, "Scheduled task updated", enrichScheduledTask},
	4719: {"policy", core.SeverityCritical, "System audit policy changed", enrichSubjectUser},
	4720: {"account", core.SeverityWarning, "User account created", enrichAccountTarget},
	4722: {"account", core.SeverityInfo, "User account enabled", enrichAccountTarget},
	4723: {"account", core.SeverityInfo, "Password change attempted", enrichAccountTarget},
	4724: {"account", core.SeverityWarning, "Password reset attempted", enrichAccountTarget},
	4725: {"account", core.SeverityInfo, "User account disabled", enrichAccountTarget},
	4726: {"account", core.SeverityWarning, "User account deleted", enrichAccountTarget},
	4732: {"account", core.SeverityWarning, "Member added to security-enabled local group", enrichGroupMembership},
	4740: {"account", core.SeverityWarning, "User account locked out", enrichAccountTarget},
	4756: {"account", core.SeverityWarning, "Member added to security-enabled universal group", enrichGroupMembership},
	4767: {"account", core.SeverityInfo, "User account unlocked", enrichAccountTarget},
	1102: {"security", core.SeverityCritical, "Audit log cleared", enrichSubjectUser},
}

var logonTypeNames = map[string]string{
	"2":  "Interactive",
	"3":  "Network",
	"4":  "Batch",
	"5":  "Service",
	"7":  "Unlock",
	"8":  "NetworkCleartext",
	"9":  "NewCredentials",
	"10": "RemoteInteractive",
	"11": "CachedInteractive",
}

// tempPathIndicators flag executables launched from scratch directories that
// legitimate software rarely runs from.
var tempPathIndicators = []string{`\temp\`, `\tmp\`, `/tmp/`, `appdata\local\temp`}

// 4624: TargetUserName=5, LogonType=8, IpAddress=18
func enrichLogonSuccess(event *core.Event, rec *windowsRecord) {
	setWindowsUser(event, rec.prop(5))
	setLogonType(event, rec.prop(8))
	if ip := rec.prop(18); ip != "" && ip != "-" {
		event.ParsedData["source_ip"] = ip
	}
}

// 4625: TargetUserName=5, LogonType=10, IpAddress=19
func enrichLogonFailure(event *core.Event, rec *windowsRecord) {
	setWindowsUser(event, rec.prop(5))
	setLogonType(event, rec.prop(10))
	if ip := rec.prop(19); ip != "" && ip != "-" {
		event.ParsedData["source_ip"] = ip
	}
}

// 4634: TargetUserName=1, LogonType=4
func enrichLogoff(event *core.Event, rec *windowsRecord) {
	setWindowsUser(event, rec.prop(1))
	setLogonType(event, rec.prop(4))
}

// 4647/4672/4673/4719/1102: SubjectUserName=1
func enrichSubjectUser(event *core.Event, rec *windowsRecord) {
	setWindowsUser(event, rec.prop(1))
}

// 4648: SubjectUserName=1, TargetUserName=5, TargetServerName=8
func enrichExplicitLogon(event *core.Event, rec *windowsRecord) {
	setWindowsUser(event, rec.prop(1))
	if target := rec.prop(5); target != "" {
		event.ParsedData["target_user"] = target
	}
	if server := rec.prop(8); server != "" {
		event.ParsedData["target_server"] = server
	}
}

// 4663: SubjectUserName=1, ObjectName=6
func enrichObjectAccess(event *core.Event, rec *windowsRecord) {
	setWindowsUser(event, rec.prop(1))
	if obj := rec.prop(6); obj != "" {
		event.ParsedData["object_name"] = obj
	}
}

// 4688: SubjectUserName=1, NewProcessName=5, CommandLine=8
func enrichProcessCreate(event *core.Event, rec *windowsRecord) {
	setWindowsUser(event, rec.prop(1))
	path := rec.prop(5)
	if path != "" {
		event.ParsedData["process_path"] = path
	}
	if cmd := rec.prop(8); cmd != "" {
		event.ParsedData["command_line"] = cmd
	}
	lower := strings.ToLower(path)
	for _, indicator := range tempPathIndicators {
		if strings.Contains(lower, indicator) {
			event.Severity = core.SeverityWarning
			event.Description = "Suspicious process created from temporary directory: " + path
			return
		}
	}
}

// 4689: SubjectUserName=1, ProcessName=6
func enrichProcessExit(event *core.Event, rec *windowsRecord) {
	setWindowsUser(event, rec.prop(1))
	if path := rec.prop(6); path != "" {
		event.ParsedData["process_path"] = path
	}
}

// 4697: SubjectUserName=1, ServiceName=4, ServiceFileName=5
func enrichServiceInstall(event *core.Event, rec *windowsRecord) {
	setWindowsUser(event, rec.prop(1))
	if name := rec.prop(4); name != "" {
		event.ParsedData["service_name"] = name
	}
	if file := rec.prop(5); file != "" {
		event.ParsedData["service_file"] = file
	}
}

// 4698-4702: SubjectUserName=1, TaskName=4
func enrichScheduledTask(event *core.Event, rec *windowsRecord) {
	setWindowsUser(event, rec.prop(1))
	if task := rec.prop(4); task != "" {
		event.ParsedData["task_name"] = task
	}
}

// 4720-4767 account lifecycle: TargetUserName=0, SubjectUserName=4
func enrichAccountTarget(event *core.Event, rec *windowsRecord) {
	if target := rec.prop(0); target != "" {
		event.ParsedData["target_user"] = target
	}
	setWindowsUser(event, rec.prop(4))
}

// 4732/4756: MemberName=0, TargetUserName(group)=2, SubjectUserName=6
func enrichGroupMembership(event *core.Event, rec *windowsRecord) {
	if member := rec.prop(0); member != "" {
		event.ParsedData["member"] = member
	}
	if group := rec.prop(2); group != "" {
		event.ParsedData["group"] = group
	}
	setWindowsUser(event, rec.prop(6))
}

func setWindowsUser(event *core.Event, user string) {
	if user == "" || user == "-" {
		return
	}
	event.User = user
	event.ParsedData["username"] = user
}

func setLogonType(event *core.Event, code string) {
	if code == "" {
		return
	}
	event.ParsedData["logon_type_code"] = code
	if name, ok := logonTypeNames[code]; ok {
		event.ParsedData["logon_type"] = name
	}
}

var dotNetDateRe = regexp.MustCompile(`^/Date\((\d+)\)/$`)

// parseWindowsTimestamp accepts both RFC3339 timestamps and the .NET
// /Date(milliseconds)/ form that ConvertTo-Json emits.
func parseWindowsTimestamp(stamp string) (time.Time, bool) {
	if m := dotNetDateRe.FindStringSubmatch(stamp); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}
	return parseISOTimestamp(stamp)
}

// ParseWindowsEvent parses a JSON-serialized Windows security event record.
// Invalid JSON degrades to a generic system event; valid records with an
// unmapped event ID keep a generic "windows" classification.
func ParseWindowsEvent(raw string) *core.Event {
	event := core.NewEvent(core.SourceWindows)
	event.RawLog = raw

	var rec windowsRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		event.EventType = "system"
		event.Severity = core.SeverityInfo
		event.Description = raw
		event.ParsedData["format"] = "non-json"
		return event
	}

	id := rec.eventID()
	if ts, ok := parseWindowsTimestamp(rec.TimeCreated); ok {
		event.Timestamp = ts
	}
	event.Hostname = rec.MachineName
	event.ParsedData["event_id"] = id
	if rec.ProviderName != "" {
		event.ParsedData["provider"] = rec.ProviderName
	}
	if rec.RecordID != 0 {
		event.ParsedData["record_id"] = rec.RecordID
	}

	info, ok := windowsEventTable[id]
	if !ok {
		event.EventType = "windows"
		event.Severity = core.SeverityInfo
		event.Description = fmt.Sprintf("Windows event %d", id)
		return event
	}

	event.EventType = info.eventType
	event.Severity = info.severity
	event.Description = info.description
	if info.enrich != nil {
		info.enrich(event, &rec)
	}
	return event
}
