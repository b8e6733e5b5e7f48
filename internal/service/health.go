package service

import (
	"encoding/json"
	"strings"
)

// Status is the tagged health value used for the overall system, the
// database, every service and every agent.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusIdle      Status = "idle"
	StatusUnknown   Status = "unknown"
)

func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusHealthy:
		return StatusHealthy
	case StatusUnhealthy:
		return StatusUnhealthy
	case StatusIdle:
		return StatusIdle
	default:
		return StatusUnknown
	}
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = StatusUnknown
		return nil
	}
	if raw == nil {
		*s = StatusUnknown
		return nil
	}
	*s = ParseStatus(*raw)
	return nil
}

// StatusMap maps a component name to its status. Components are reported
// either as {"status": "..."} objects or as bare strings.
type StatusMap map[string]Status

func (m *StatusMap) UnmarshalJSON(data []byte) error {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	out := make(StatusMap, len(entries))
	for name, blob := range entries {
		var object struct {
			Status Status `json:"status"`
		}
		if err := json.Unmarshal(blob, &object); err == nil && object.Status != "" {
			out[name] = object.Status
			continue
		}
		var bare Status
		_ = json.Unmarshal(blob, &bare)
		if bare == "" {
			bare = StatusUnknown
		}
		out[name] = bare
	}
	*m = out
	return nil
}

type DatabaseHealth struct {
	Status    Status `json:"status"`
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
}

type AgentsHealth struct {
	Total           int       `json:"total_agents"`
	Active          int       `json:"active_agents"`
	Idle            int       `json:"idle_agents"`
	ActiveWorkflows int       `json:"active_workflows"`
	Agents          StatusMap `json:"agents"`
}

type HealthReport struct {
	Status    Status         `json:"status"`
	Database  DatabaseHealth `json:"database"`
	Services  StatusMap      `json:"services"`
	Agents    AgentsHealth   `json:"agents"`
	Version   string         `json:"version"`
	Timestamp string         `json:"timestamp"`
}

func (r *HealthReport) Healthy() bool {
	return r != nil && r.Status == StatusHealthy
}

// ServiceOK reports whether a service status counts as operational.
func ServiceOK(s Status) bool {
	return s == StatusHealthy
}

// AgentOK treats idle agents as operational.
func AgentOK(s Status) bool {
	return s == StatusHealthy || s == StatusIdle
}
