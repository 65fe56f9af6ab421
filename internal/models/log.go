package models

import (
	"strings"
	"time"
)

// Severity classifies a LogLine.
type Severity string

const (
	SeveritySystem  Severity = "SYSTEM"
	SeveritySuccess Severity = "SUCCESS"
	SeverityError   Severity = "ERROR"
)

// ParseSeverity maps stored or user supplied values onto a Severity.
// INFO is accepted as an alias of SYSTEM.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS":
		return SeveritySuccess
	case "ERROR":
		return SeverityError
	default:
		return SeveritySystem
	}
}

// LogLine is one line of bot console output or an orchestrator system message.
// ID is assigned by the durable store and defines the order within an identity.
type LogLine struct {
	ID        int64     `json:"id"`
	BotID     string    `json:"botId"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"type"`
	Message   string    `json:"message"`
}

// NewLogLine stamps a line with the current time.
func NewLogLine(botID string, sev Severity, msg string) LogLine {
	return LogLine{
		BotID:     botID,
		Timestamp: time.Now().UTC(),
		Severity:  sev,
		Message:   msg,
	}
}
