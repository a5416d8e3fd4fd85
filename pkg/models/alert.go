package models

import "time"

// Alert is the externally supplied payload describing an incident.
type Alert struct {
	AlertType   string              `json:"alert_type"`
	Data        map[string]any      `json:"data"`
	Runbook     string              `json:"runbook,omitempty"`
	Severity    string              `json:"severity,omitempty"`
	TimestampUS int64               `json:"timestamp,omitempty"`
	MCP         *MCPSelectionConfig `json:"mcp,omitempty"`
}

// NowUS returns the current time as microseconds since the Unix epoch, the
// ordering key used across all persisted interactions.
func NowUS() int64 {
	return time.Now().UnixMicro()
}

// DurationMSFrom computes the duration in milliseconds between two
// microsecond timestamps.
func DurationMSFrom(startUS, endUS int64) int {
	return int((endUS - startUS) / 1000)
}
