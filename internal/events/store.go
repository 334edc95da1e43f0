// Package events is the local journal of operator mutations.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/treykane/port-console/internal/appconfig"
	"github.com/treykane/port-console/internal/model"
)

const (
	PortCreated = "port_created"
	PortUpdated = "port_updated"
	PortDeleted = "port_deleted"
	RuleCreated = "rule_created"
	RuleUpdated = "rule_updated"
	RuleDeleted = "rule_deleted"
	RuleRefused = "rule_refused"
	UserAdded   = "user_added"
	UserRemoved = "user_removed"
)

// Event is one mutation record persisted to events.jsonl.
type Event struct {
	Timestamp  time.Time        `json:"timestamp"`
	ServerID   int              `json:"server_id,omitempty"`
	PortID     int              `json:"port_id,omitempty"`
	EventType  string           `json:"event_type"`
	RuleStatus model.RuleStatus `json:"rule_status,omitempty"`
	Message    string           `json:"message,omitempty"`
	// Error is set when the mutation failed; EventType names the attempt.
	Error      string           `json:"error,omitempty"`
}

// Query controls event filtering and bounded reads.
type Query struct {
	ServerID  int
	PortID    int
	EventType string
	Since     time.Time
	Limit     int
}

// Store provides append/read access to the local event journal.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a journal at the default events.jsonl location.
func NewStore() *Store {
	return &Store{}
}

// NewStoreAt returns a journal backed by path.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

func (s *Store) filePath() (string, error) {
	if s.path != "" {
		return s.path, nil
	}
	return appconfig.EventsFilePath()
}

// Append writes a single event as one JSON line.
func (s *Store) Append(evt Event) error {
	path, err := s.filePath()
	if err != nil {
		return err
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// Read returns events in append order, filtered by query, keeping the last
// Limit matches when Limit is set.
func (s *Store) Read(q Query) ([]Event, error) {
	path, err := s.filePath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		if !matches(evt, q) {
			continue
		}
		out = append(out, evt)
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[len(out)-q.Limit:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return out, nil
}

func matches(evt Event, q Query) bool {
	if q.ServerID != 0 && evt.ServerID != q.ServerID {
		return false
	}
	if q.PortID != 0 && evt.PortID != q.PortID {
		return false
	}
	if q.EventType != "" && evt.EventType != q.EventType {
		return false
	}
	if !q.Since.IsZero() && evt.Timestamp.Before(q.Since) {
		return false
	}
	return true
}
