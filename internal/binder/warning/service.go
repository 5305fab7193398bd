// Package warning keeps recent operator-facing binder events in memory
package warning

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// MaxWarnings is the maximum number of warnings to store
	MaxWarnings = 1000
)

// Categories
const (
	CategoryTransform = "TRANSFORM"
	CategoryPoll      = "POLL"
	CategoryDispatch  = "DISPATCH"
)

// Severities
const (
	SeverityWarn  = "WARN"
	SeverityError = "ERROR"
)

// Warning is a single recorded event
type Warning struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	Acknowledged bool      `json:"acknowledged"`
}

// Recorder is the write side used by listener pools
type Recorder interface {
	AddWarning(category, severity, message, source string)
}

// Service defines the warning service interface
type Service interface {
	Recorder

	// GetAllWarnings returns all warnings, newest first
	GetAllWarnings() []*Warning

	// GetWarningsBySeverity returns warnings filtered by severity
	GetWarningsBySeverity(severity string) []*Warning

	// GetUnacknowledgedWarnings returns all unacknowledged warnings
	GetUnacknowledgedWarnings() []*Warning

	// AcknowledgeWarning marks a warning as acknowledged
	AcknowledgeWarning(warningID string) bool

	// ClearAllWarnings removes all warnings
	ClearAllWarnings()

	// ClearOldWarnings removes warnings older than maxAge
	ClearOldWarnings(maxAge time.Duration) int
}

// InMemoryService is an in-memory implementation of the warning service
type InMemoryService struct {
	mu       sync.RWMutex
	warnings map[string]*Warning
	now      func() time.Time
}

// NewInMemoryService creates a new in-memory warning service
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		warnings: make(map[string]*Warning),
		now:      time.Now,
	}
}

// AddWarning records a warning, evicting the oldest one when full
func (s *InMemoryService) AddWarning(category, severity, message, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.warnings) >= MaxWarnings {
		var oldestID string
		var oldestTime time.Time
		for id, w := range s.warnings {
			if oldestID == "" || w.Timestamp.Before(oldestTime) {
				oldestID = id
				oldestTime = w.Timestamp
			}
		}
		if oldestID != "" {
			delete(s.warnings, oldestID)
		}
	}

	w := &Warning{
		ID:        uuid.NewString(),
		Category:  category,
		Severity:  severity,
		Message:   message,
		Timestamp: s.now(),
		Source:    source,
	}
	s.warnings[w.ID] = w

	log.Debug().
		Str("severity", severity).
		Str("category", category).
		Str("source", source).
		Msg("Warning recorded")
}

// GetAllWarnings returns all warnings sorted by timestamp (newest first)
func (s *InMemoryService) GetAllWarnings() []*Warning {
	return s.filter(func(*Warning) bool { return true })
}

// GetWarningsBySeverity returns warnings filtered by severity
func (s *InMemoryService) GetWarningsBySeverity(severity string) []*Warning {
	return s.filter(func(w *Warning) bool { return strings.EqualFold(w.Severity, severity) })
}

// GetUnacknowledgedWarnings returns all unacknowledged warnings
func (s *InMemoryService) GetUnacknowledgedWarnings() []*Warning {
	return s.filter(func(w *Warning) bool { return !w.Acknowledged })
}

func (s *InMemoryService) filter(keep func(*Warning) bool) []*Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Warning, 0, len(s.warnings))
	for _, w := range s.warnings {
		if keep(w) {
			cp := *w
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result
}

// AcknowledgeWarning marks a warning as acknowledged
func (s *InMemoryService) AcknowledgeWarning(warningID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.warnings[warningID]
	if !ok {
		return false
	}
	w.Acknowledged = true

	log.Info().Str("warningId", warningID).Msg("Warning acknowledged")
	return true
}

// ClearAllWarnings removes all warnings
func (s *InMemoryService) ClearAllWarnings() {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.warnings)
	s.warnings = make(map[string]*Warning)
	log.Info().Int("count", count).Msg("Cleared all warnings")
}

// ClearOldWarnings removes warnings older than maxAge and returns how many
// were removed
func (s *InMemoryService) ClearOldWarnings(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.now().Add(-maxAge)
	removed := 0
	for id, w := range s.warnings {
		if w.Timestamp.Before(threshold) {
			delete(s.warnings, id)
			removed++
		}
	}

	log.Info().Int("count", removed).Dur("maxAge", maxAge).Msg("Cleared old warnings")
	return removed
}
