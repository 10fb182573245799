// Package deliverable persists workflow artifacts produced during phase
// execution.
//
// Deliverables are idempotent artifacts keyed by phase and type: saving
// the same (phase, type) pair overwrites the previous record, so
// re-running a phase is safe. The default store writes one JSON document
// per artifact under a configured root directory.
package deliverable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound indicates no deliverable exists for the phase and type.
var ErrNotFound = errors.New("deliverable not found")

// Record is one persisted deliverable.
type Record struct {
	ID       string            `json:"id"`
	Phase    string            `json:"phase"`
	Type     string            `json:"type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SavedAt  time.Time         `json:"saved_at"`
}

// Store is the deliverable persistence contract.
type Store interface {
	Save(ctx context.Context, phase, dtype, content string, metadata map[string]string) (*Record, error)
	Get(ctx context.Context, phase, dtype string) (*Record, error)
}

// FileStore persists deliverables as JSON files under root/<phase>/<type>.json.
type FileStore struct {
	root   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("deliverable: root directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("deliverable: creating root %s: %w", dir, err)
	}
	return &FileStore{root: dir, logger: logger}, nil
}

// Save writes the deliverable, overwriting any previous artifact of the
// same phase and type.
func (s *FileStore) Save(_ context.Context, phase, dtype, content string, metadata map[string]string) (*Record, error) {
	path, err := s.pathFor(phase, dtype)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:       uuid.NewString(),
		Phase:    strings.ToLower(phase),
		Type:     strings.ToLower(dtype),
		Content:  content,
		Metadata: metadata,
		SavedAt:  time.Now().UTC(),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("deliverable: encoding %s/%s: %w", phase, dtype, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("deliverable: creating phase dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("deliverable: writing %s: %w", path, err)
	}

	s.logger.Debug("deliverable saved",
		zap.String("phase", rec.Phase),
		zap.String("type", rec.Type),
		zap.String("id", rec.ID))
	return rec, nil
}

// Get reads the deliverable for a phase and type.
func (s *FileStore) Get(_ context.Context, phase, dtype string) (*Record, error) {
	path, err := s.pathFor(phase, dtype)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, phase, dtype)
		}
		return nil, fmt.Errorf("deliverable: reading %s: %w", path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("deliverable: decoding %s: %w", path, err)
	}
	return &rec, nil
}

var identRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// pathFor validates the phase and type as safe path components.
func (s *FileStore) pathFor(phase, dtype string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(phase))
	d := strings.ToLower(strings.TrimSpace(dtype))
	if !identRe.MatchString(p) {
		return "", fmt.Errorf("deliverable: invalid phase %q", phase)
	}
	if !identRe.MatchString(d) {
		return "", fmt.Errorf("deliverable: invalid type %q", dtype)
	}
	return filepath.Join(s.root, p, d+".json"), nil
}
