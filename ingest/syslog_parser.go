package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"argus/core"
)

var (
	// RFC3164 header: <pri>Mon DD HH:MM:SS hostname program[pid]: message
	bsdHeaderRe = regexp.MustCompile(`^<(\d{1,3})>([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.*)$`)
	// RFC5424-style header: <pri>[version] ISO-timestamp hostname program[pid]: message
	isoHeaderRe = regexp.MustCompile(`^<(\d{1,3})>\d*\s*(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\s+(\S+)\s+(.*)$`)
	// program[pid]: message
	tagRe = regexp.MustCompile(`^([^\s:\[\]]+)(?:\[(\d+)\])?:\s*(.*)$`)
)

var isoTimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseSyslog parses a raw syslog line into a normalized Event. It never
// fails: input matching neither the BSD nor the ISO header format degrades
// to a generic system event that preserves the raw text.
func ParseSyslog(raw string) *core.Event {
	event := core.NewEvent(core.SourceSyslog)
	event.RawLog = raw

	if m := bsdHeaderRe.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		event.Timestamp = parseBSDTimestamp(m[2], time.Now().UTC())
		event.Hostname = m[3]
		fillSyslogEvent(event, pri, m[4])
		return event
	}

	if m := isoHeaderRe.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		if ts, ok := parseISOTimestamp(m[2]); ok {
			event.Timestamp = ts
		}
		event.Hostname = m[3]
		fillSyslogEvent(event, pri, m[4])
		return event
	}

	event.EventType = "system"
	event.Severity = core.SeverityInfo
	event.Description = raw
	event.ParsedData["format"] = "non-standard"
	return event
}

// fillSyslogEvent decodes the priority field, splits the program tag off the
// message body and classifies the event.
func fillSyslogEvent(event *core.Event, pri int, body string) {
	facility := pri / 8
	code := pri % 8

	program := ""
	pid := ""
	message := body
	if m := tagRe.FindStringSubmatch(body); m != nil {
		program = m[1]
		pid = m[2]
		message = m[3]
	}

	event.EventType = classifySyslog(program, message)
	event.Severity = severityFromSyslogCode(code)
	event.Description = message
	if event.Description == "" {
		event.Description = body
	}

	event.ParsedData["priority"] = pri
	event.ParsedData["facility"] = facility
	event.ParsedData["syslog_severity"] = code
	if program != "" {
		event.ParsedData["program"] = program
	}
	if pid != "" {
		event.ParsedData["pid"] = pid
	}
	event.ParsedData["message"] = message
}

// severityFromSyslogCode maps the syslog severity code (priority mod 8,
// 0=emergency..7=debug) onto the three-level alerting scale.
func severityFromSyslogCode(code int) string {
	switch {
	case code <= 2:
		return core.SeverityCritical
	case code <= 5:
		return core.SeverityWarning
	default:
		return core.SeverityInfo
	}
}

// parseBSDTimestamp parses an RFC3164 timestamp, which carries no year. The
// current year is assumed; a result in the future means the line was written
// just before a year boundary and is rolled back one year.
func parseBSDTimestamp(stamp string, now time.Time) time.Time {
	normalized := strings.Join(strings.Fields(stamp), " ")
	t, err := time.Parse("Jan 2 15:04:05", normalized)
	if err != nil {
		return now
	}
	t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	if t.After(now.Add(24 * time.Hour)) {
		t = t.AddDate(-1, 0, 0)
	}
	return t
}

func parseISOTimestamp(stamp string) (time.Time, bool) {
	for _, layout := range isoTimestampLayouts {
		if t, err := time.Parse(layout, stamp); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// classifySyslog assigns an event type from the program tag, falling back to
// keyword matching on the message body.
func classifySyslog(program, message string) string {
	switch strings.ToLower(program) {
	case "sshd", "su", "sudo", "login", "passwd":
		return "authentication"
	case "iptables", "ufw", "firewalld":
		return "firewall"
	case "dhclient", "networkmanager", "wpa_supplicant":
		return "network"
	case "kernel", "systemd", "init":
		return "system"
	case "cron", "crond":
		return "process"
	}

	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "firewall"):
		return "firewall"
	case strings.Contains(msg, "connection"):
		return "network"
	case strings.Contains(msg, "process"), strings.Contains(msg, "started"), strings.Contains(msg, "stopped"):
		return "process"
	}
	return "system"
}
