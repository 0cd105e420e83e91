package trust

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrUnreadable marks a trust map that exists but cannot be parsed. The
// engine treats this as recoverable and keeps using its last good map.
var ErrUnreadable = errors.New("trust map unreadable")

// Store reads and writes the trust map file. The daemon only ever calls
// Load; the mutation helpers back the switcherctl tool.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load reads the current trust map. A missing file is an empty map, not an
// error, so a fresh install runs with no VPN until rules are added.
func (s *Store) Load() (*Map, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Map{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return &m, nil
}

// Save persists the map with owner-only permissions.
func (s *Store) Save(m *Map) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("serialize trust map: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write trust map: %w", err)
	}
	return nil
}

// Add appends a rule, replacing any existing rule with the same matcher
// (last-write-wins).
func (s *Store) Add(rule Rule) error {
	m, err := s.Load()
	if err != nil {
		return err
	}
	kept := m.Rules[:0]
	for _, r := range m.Rules {
		if r.Matcher() != rule.Matcher() {
			kept = append(kept, r)
		}
	}
	m.Rules = append(kept, rule)
	return s.Save(m)
}

// Remove deletes all rules matching the key and reports how many went away.
func (s *Store) Remove(k Key) (int, error) {
	m, err := s.Load()
	if err != nil {
		return 0, err
	}
	kept := m.Rules[:0]
	removed := 0
	for _, r := range m.Rules {
		if r.Matches(k) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.Rules = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, s.Save(m)
}

// SetFallback sets the profile used when no rule matches.
func (s *Store) SetFallback(profile string) error {
	m, err := s.Load()
	if err != nil {
		return err
	}
	m.Fallback = profile
	return s.Save(m)
}
