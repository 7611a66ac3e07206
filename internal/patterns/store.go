package patterns

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/lucasnoah/nexus/internal/fsutil"
)

// Store persists the pattern document at a single JSON path.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a Store backed by path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{path: path, logger: logger, now: time.Now}
}

// Path returns the pattern document location.
func (s *Store) Path() string { return s.path }

// Load reads the document, migrating a legacy layout in place the first
// time it is seen. A corrupt document is replaced by an empty one.
func (s *Store) Load(ctx context.Context) (*Document, error) {
	var doc *Document
	err := fsutil.WithLock(ctx, s.path, func() error {
		d, dirty, err := s.read()
		if err != nil {
			return err
		}
		if dirty {
			if err := fsutil.WriteJSON(s.path, d); err != nil {
				return err
			}
		}
		doc = d
		return nil
	})
	return doc, err
}

// Add records a single observation.
func (s *Store) Add(ctx context.Context, obs Observation) error {
	return s.update(ctx, func(d *Document) {
		if obs.Timestamp.IsZero() {
			obs.Timestamp = s.now()
		}
		d.AddObservation(obs)
	})
}

func (s *Store) update(ctx context.Context, fn func(*Document)) error {
	return fsutil.WithLock(ctx, s.path, func() error {
		d, _, err := s.read()
		if err != nil {
			return err
		}
		fn(d)
		d.LastUpdated = s.now().UTC()
		return fsutil.WriteJSON(s.path, d)
	})
}

// read loads the document without locking. dirty reports that the on-disk
// form should be rewritten.
func (s *Store) read() (doc *Document, dirty bool, err error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewDocument(s.now()), false, nil
	}
	if err != nil {
		return nil, false, err
	}

	d, migrated, err := Migrate(raw, s.now())
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			s.logger.Warn("pattern store reset", "path", s.path, "error", err)
			return d, true, nil
		}
		return nil, false, err
	}
	if migrated {
		s.logger.Info("pattern store migrated to nested schema", "path", s.path, "types", len(d.Patterns))
	}
	return d, migrated, nil
}
