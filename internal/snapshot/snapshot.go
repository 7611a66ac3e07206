// Package snapshot captures changed files before checks run so a failed
// gate can put them back.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/lucasnoah/nexus/internal/ids"
	"github.com/spf13/afero"
)

// ManifestName is the manifest file inside each snapshot directory.
const ManifestName = "_manifest.json"

// MaxFiles bounds how many changed paths a capture copies.
const MaxFiles = 200

// Restore methods.
const (
	MethodGitCheckout     = "git_checkout"
	MethodSnapshotRestore = "snapshot_restore"
	MethodSnapshotMissing = "snapshot_missing"
)

// Manifest describes one snapshot.
type Manifest struct {
	Timestamp string   `json:"timestamp"`
	Root      string   `json:"root"`
	Files     []string `json:"files"`
}

// Snapshot is a captured directory and its manifest.
type Snapshot struct {
	Dir      string
	Manifest Manifest
}

// Reverter discards tracked changes in a version-controlled root.
type Reverter interface {
	DiscardChanges(ctx context.Context, dir string) error
}

// Manager captures and restores snapshots under a base directory.
type Manager struct {
	fs       afero.Fs
	baseDir  string
	git      Reverter
	maxFiles int
	now      func() time.Time
}

// NewManager creates a Manager. fs may be nil for the OS filesystem.
func NewManager(fsys afero.Fs, baseDir string, git Reverter) *Manager {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Manager{fs: fsys, baseDir: baseDir, git: git, maxFiles: MaxFiles, now: time.Now}
}

// Capture copies the existing regular files among changed (relative to
// root, first MaxFiles only) into a new snapshot directory.
func (m *Manager) Capture(root string, changed []string) (*Snapshot, error) {
	now := m.now().UTC()
	stamp := now.Format("20060102_150405")
	dir := filepath.Join(m.baseDir, stamp+"_"+ids.Suffix())
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	manifest := Manifest{Timestamp: stamp, Root: root, Files: []string{}}
	if len(changed) > m.maxFiles {
		changed = changed[:m.maxFiles]
	}
	for _, rel := range changed {
		if !isLocal(rel) {
			continue
		}
		src := filepath.Join(root, rel)
		info, err := m.fs.Stat(src)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := m.copyFile(src, filepath.Join(dir, rel), info.Mode().Perm()); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", rel, err)
		}
		manifest.Files = append(manifest.Files, rel)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := afero.WriteFile(m.fs, filepath.Join(dir, ManifestName), append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return &Snapshot{Dir: dir, Manifest: manifest}, nil
}

// Restore puts root back into its pre-change state and reports the method
// used. Version-controlled roots are reverted through git; otherwise the
// manifested files are copied back over the working tree.
func (m *Manager) Restore(ctx context.Context, root, snapDir string) (string, error) {
	if _, err := m.fs.Stat(filepath.Join(root, ".git")); err == nil && m.git != nil {
		if err := m.git.DiscardChanges(ctx, root); err != nil {
			return MethodGitCheckout, fmt.Errorf("git revert: %w", err)
		}
		return MethodGitCheckout, nil
	}

	data, err := afero.ReadFile(m.fs, filepath.Join(snapDir, ManifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return MethodSnapshotMissing, nil
		}
		return MethodSnapshotMissing, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return MethodSnapshotMissing, fmt.Errorf("parse manifest: %w", err)
	}

	for _, rel := range manifest.Files {
		if !isLocal(rel) {
			continue
		}
		src := filepath.Join(snapDir, rel)
		info, err := m.fs.Stat(src)
		if err != nil {
			continue
		}
		if err := m.copyFile(src, filepath.Join(root, rel), info.Mode().Perm()); err != nil {
			return MethodSnapshotRestore, fmt.Errorf("restore %s: %w", rel, err)
		}
	}
	return MethodSnapshotRestore, nil
}

// Prune deletes all but the newest keep snapshot directories.
func (m *Manager) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	entries, err := afero.ReadDir(m.fs, m.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) <= keep {
		return 0, nil
	}
	slices.Sort(dirs)
	removed := 0
	for _, name := range dirs[:len(dirs)-keep] {
		if err := m.fs.RemoveAll(filepath.Join(m.baseDir, name)); err != nil {
			return removed, fmt.Errorf("remove snapshot %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) copyFile(src, dst string, perm os.FileMode) error {
	if err := m.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := m.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := m.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// isLocal rejects absolute paths and paths escaping the root.
func isLocal(rel string) bool {
	return rel != "" && filepath.IsLocal(rel) && !strings.HasPrefix(rel, ".git"+string(filepath.Separator))
}
