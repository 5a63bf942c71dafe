package logic

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// stateFile is the persisted phase record, relative to the data directory.
const stateFile = "last_state"

// Store persists the current flight phase so a restart mid-flight can
// resume where it left off.
type Store struct {
	path string
}

// NewStore returns a store backed by the data directory's state file.
func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, stateFile)}
}

// Last reads the persisted phase. A missing or empty file means "first
// run" and reports ok=false; a file holding an unknown token is an error.
func (s *Store) Last() (Phase, bool, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("logic: read state file: %w", err)
	}

	token := strings.TrimSpace(string(b))
	if token == "" {
		return 0, false, nil
	}
	p, err := ParsePhase(token)
	if err != nil {
		return 0, false, err
	}
	return p, true, nil
}

// Save rewrites the state file with the phase token and fsyncs it. The file
// always names the phase that is about to run.
func (s *Store) Save(p Phase) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("logic: open state file: %w", err)
	}
	if _, err := f.WriteString(p.String()); err != nil {
		f.Close()
		return fmt.Errorf("logic: write state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("logic: sync state file: %w", err)
	}
	return f.Close()
}
