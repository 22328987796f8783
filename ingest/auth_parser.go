package ingest

import (
	"fmt"
	"regexp"
	"strconv"

	"argus/core"
)

// authPattern couples a message regex with the field extraction applied on a
// match. Patterns are tried in order and the first match wins, so the more
// specific SSH patterns must stay ahead of the generic PAM ones.
type authPattern struct {
	re    *regexp.Regexp
	apply func(event *core.Event, m []string)
}

var authPatterns = []authPattern{
	{
		re: regexp.MustCompile(`Failed password for (?:invalid user )?(\S+) from (\S+) port (\d+)`),
		apply: func(event *core.Event, m []string) {
			port, _ := strconv.Atoi(m[3])
			event.EventType = "authentication"
			event.Severity = core.SeverityWarning
			event.User = m[1]
			event.Description = fmt.Sprintf("Failed SSH login for user %s from %s", m[1], m[2])
			event.ParsedData["auth_type"] = "ssh"
			event.ParsedData["auth_result"] = "failure"
			event.ParsedData["username"] = m[1]
			event.ParsedData["source_ip"] = m[2]
			event.ParsedData["source_port"] = port
		},
	},
	{
		re: regexp.MustCompile(`Accepted (\S+) for (\S+) from (\S+) port (\d+)`),
		apply: func(event *core.Event, m []string) {
			port, _ := strconv.Atoi(m[4])
			event.EventType = "authentication"
			event.Severity = core.SeverityInfo
			event.User = m[2]
			event.Description = fmt.Sprintf("Successful SSH login for user %s from %s", m[2], m[3])
			event.ParsedData["auth_type"] = "ssh"
			event.ParsedData["auth_result"] = "success"
			event.ParsedData["auth_method"] = m[1]
			event.ParsedData["username"] = m[2]
			event.ParsedData["source_ip"] = m[3]
			event.ParsedData["source_port"] = port
		},
	},
	{
		re: regexp.MustCompile(`Invalid user (\S+) from (\S+)`),
		apply: func(event *core.Event, m []string) {
			event.EventType = "authentication"
			event.Severity = core.SeverityWarning
			event.User = m[1]
			event.Description = fmt.Sprintf("SSH login attempt for invalid user %s from %s", m[1], m[2])
			event.ParsedData["auth_type"] = "ssh"
			event.ParsedData["auth_result"] = "invalid_user"
			event.ParsedData["username"] = m[1]
			event.ParsedData["source_ip"] = m[2]
		},
	},
	{
		// Failed sudo lines also carry TTY/PWD/USER/COMMAND fields, so
		// this pattern must stay ahead of the sudo success pattern.
		re: regexp.MustCompile(`^(\S+) : (?:\d+ incorrect password attempts? |user NOT in sudoers ).*COMMAND=(.*)$`),
		apply: func(event *core.Event, m []string) {
			event.EventType = "authentication"
			event.Severity = core.SeverityWarning
			event.User = m[1]
			event.Description = fmt.Sprintf("Failed sudo attempt by user %s: %s", m[1], m[2])
			event.ParsedData["auth_type"] = "sudo"
			event.ParsedData["auth_result"] = "failure"
			event.ParsedData["username"] = m[1]
			event.ParsedData["command"] = m[2]
		},
	},
	{
		re: regexp.MustCompile(`^(\S+) :.*TTY=(\S+) ; PWD=(\S+) ; USER=(\S+) ; COMMAND=(.*)$`),
		apply: func(event *core.Event, m []string) {
			event.EventType = "authentication"
			event.Severity = core.SeverityInfo
			event.User = m[1]
			event.Description = fmt.Sprintf("User %s executed command as %s: %s", m[1], m[4], m[5])
			event.ParsedData["auth_type"] = "sudo"
			event.ParsedData["auth_result"] = "success"
			event.ParsedData["username"] = m[1]
			event.ParsedData["target_user"] = m[4]
			event.ParsedData["command"] = m[5]
			if m[4] == "root" {
				event.EventType = "privilege"
				event.Severity = core.SeverityWarning
				event.Description = fmt.Sprintf("Privilege escalation: %s executed command as root: %s", m[1], m[5])
			}
		},
	},
	{
		re: regexp.MustCompile(`Successful su for (\S+) by (\S+)`),
		apply: func(event *core.Event, m []string) {
			event.EventType = "authentication"
			event.Severity = core.SeverityInfo
			event.User = m[2]
			event.Description = fmt.Sprintf("User %s switched to %s", m[2], m[1])
			event.ParsedData["auth_type"] = "su"
			event.ParsedData["auth_result"] = "success"
			event.ParsedData["username"] = m[2]
			event.ParsedData["target_user"] = m[1]
		},
	},
	{
		re: regexp.MustCompile(`FAILED su for (\S+) by (\S+)`),
		apply: func(event *core.Event, m []string) {
			event.EventType = "authentication"
			event.Severity = core.SeverityWarning
			event.User = m[2]
			event.Description = fmt.Sprintf("Failed su to %s by user %s", m[1], m[2])
			event.ParsedData["auth_type"] = "su"
			event.ParsedData["auth_result"] = "failure"
			event.ParsedData["username"] = m[2]
			event.ParsedData["target_user"] = m[1]
		},
	},
	{
		re: regexp.MustCompile(`pam_unix\((\S+):session\): session (opened|closed) for user (\S+)`),
		apply: func(event *core.Event, m []string) {
			event.EventType = "authentication"
			event.Severity = core.SeverityInfo
			event.User = m[3]
			event.Description = fmt.Sprintf("Session %s for user %s (%s)", m[2], m[3], m[1])
			event.ParsedData["auth_type"] = "pam"
			event.ParsedData["auth_result"] = "session_" + m[2]
			event.ParsedData["username"] = m[3]
			event.ParsedData["service"] = m[1]
		},
	},
	{
		re: regexp.MustCompile(`pam_unix\((\S+):auth\): authentication failure;.*rhost=(\S*)(?:\s+user=(\S+))?`),
		apply: func(event *core.Event, m []string) {
			event.EventType = "authentication"
			event.Severity = core.SeverityWarning
			event.Description = fmt.Sprintf("PAM authentication failure (%s)", m[1])
			event.ParsedData["auth_type"] = "pam"
			event.ParsedData["auth_result"] = "failure"
			event.ParsedData["service"] = m[1]
			if m[2] != "" {
				event.ParsedData["source_ip"] = m[2]
			}
			if m[3] != "" {
				event.User = m[3]
				event.ParsedData["username"] = m[3]
			}
		},
	},
	{
		re: regexp.MustCompile(`password changed for (\S+)`),
		apply: func(event *core.Event, m []string) {
			event.EventType = "account"
			event.Severity = core.SeverityInfo
			event.User = m[1]
			event.Description = fmt.Sprintf("Password changed for user %s", m[1])
			event.ParsedData["auth_type"] = "passwd"
			event.ParsedData["auth_result"] = "password_changed"
			event.ParsedData["username"] = m[1]
		},
	},
	{
		re: regexp.MustCompile(`new user: name=([^,\s]+)`),
		apply: func(event *core.Event, m []string) {
			event.EventType = "account"
			event.Severity = core.SeverityInfo
			event.User = m[1]
			event.Description = fmt.Sprintf("New user account created: %s", m[1])
			event.ParsedData["auth_result"] = "user_added"
			event.ParsedData["username"] = m[1]
		},
	},
}

// ParseAuthLog parses a Linux auth log line. It layers on the syslog parser:
// the base event supplies timestamp, hostname and priority fields, then the
// inner message is matched against the known authentication patterns. Lines
// matching no pattern keep the syslog-derived classification.
func ParseAuthLog(raw string) *core.Event {
	event := ParseSyslog(raw)
	event.Source = core.SourceAuth

	// Lines handed over without a syslog header (e.g. a tailed auth.log
	// fragment) still carry matchable content in the raw text.
	message, _ := event.ParsedData["message"].(string)
	if message == "" {
		message = raw
	}
	for _, p := range authPatterns {
		if m := p.re.FindStringSubmatch(message); m != nil {
			delete(event.ParsedData, "format")
			p.apply(event, m)
			break
		}
	}
	return event
}
