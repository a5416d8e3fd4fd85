// Package services holds cross-cutting operator-facing services that do not
// belong to one subsystem. Today that is the system warnings ledger surfaced
// on the health endpoint and the system_health channel.
package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Warning categories. Warnings are keyed by (category, server_id) so a
// recurring condition replaces its previous entry instead of piling up.
const (
	// WarningCategoryMCPHealth marks an MCP server that failed its health
	// probe at runtime.
	WarningCategoryMCPHealth = "mcp_health"

	// WarningCategoryHistory marks the history store running degraded
	// (disabled by configuration or unreachable at startup).
	WarningCategoryHistory = "history"
)

// SystemWarning is one active degraded-but-running condition.
type SystemWarning struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	ServerID  string    `json:"server_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemWarningsService is the in-memory warnings ledger. It is
// intentionally not persisted: a warning describes the current process, and
// a restart re-detects whatever still holds.
type SystemWarningsService struct {
	mu       sync.RWMutex
	warnings map[string]*SystemWarning
}

// NewSystemWarningsService creates an empty warnings ledger.
func NewSystemWarningsService() *SystemWarningsService {
	return &SystemWarningsService{warnings: make(map[string]*SystemWarning)}
}

// AddWarning records a warning and returns its id. An existing warning with
// the same category and server id is replaced.
func (s *SystemWarningsService) AddWarning(category, message, details, serverID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.warnings {
		if w.Category == category && w.ServerID == serverID {
			delete(s.warnings, id)
			break
		}
	}

	id := uuid.NewString()
	s.warnings[id] = &SystemWarning{
		ID:        id,
		Category:  category,
		Message:   message,
		Details:   details,
		ServerID:  serverID,
		CreatedAt: time.Now(),
	}
	return id
}

// GetWarnings returns copies of all active warnings.
func (s *SystemWarningsService) GetWarnings() []*SystemWarning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SystemWarning, 0, len(s.warnings))
	for _, w := range s.warnings {
		cp := *w
		out = append(out, &cp)
	}
	return out
}

// ClearByServerID removes the warning matching category and server id,
// reporting whether one existed. Health monitors call this on recovery.
func (s *SystemWarningsService) ClearByServerID(category, serverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.warnings {
		if w.Category == category && w.ServerID == serverID {
			delete(s.warnings, id)
			return true
		}
	}
	return false
}
