// Package backup snapshots the catalogue database and the calibration
// document into timestamped directories, and restores them on request.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry describes one stored backup.
type Entry struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// Manager creates, lists and restores backups.
type Manager struct {
	dir         string
	database    string
	calibration string
}

// New binds the manager to the backup directory and the two source files.
func New(dir, databasePath, calibrationPath string) *Manager {
	return &Manager{dir: dir, database: databasePath, calibration: calibrationPath}
}

// Create snapshots both files into a new timestamped backup.
func (m *Manager) Create() (*Entry, error) {
	name := time.Now().Format("20060102-150405")
	target := filepath.Join(m.dir, name)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	var total int64
	for _, src := range []string{m.database, m.calibration} {
		n, err := copyFile(src, filepath.Join(target, filepath.Base(src)))
		if err != nil {
			if os.IsNotExist(err) {
				continue // a source that does not exist yet is not fatal
			}
			return nil, fmt.Errorf("backup: %w", err)
		}
		total += n
	}
	return &Entry{Name: name, CreatedAt: time.Now(), SizeBytes: total}, nil
}

// List returns the stored backups, newest first.
func (m *Manager) List() ([]Entry, error) {
	dirs, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		created, err := time.ParseInLocation("20060102-150405", d.Name(), time.Local)
		if err != nil {
			continue
		}
		var size int64
		files, _ := os.ReadDir(filepath.Join(m.dir, d.Name()))
		for _, f := range files {
			if info, err := f.Info(); err == nil {
				size += info.Size()
			}
		}
		entries = append(entries, Entry{Name: d.Name(), CreatedAt: created, SizeBytes: size})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name > entries[j].Name })
	return entries, nil
}

// Restore copies a backup's files back over the live paths. The caller is
// responsible for reopening the store afterwards.
func (m *Manager) Restore(name string) error {
	if strings.ContainsAny(name, "/\\") || name == "" || name == ".." {
		return fmt.Errorf("backup: invalid name %q", name)
	}
	source := filepath.Join(m.dir, name)
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	for _, dst := range []string{m.database, m.calibration} {
		src := filepath.Join(source, filepath.Base(dst))
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if _, err := copyFile(src, dst); err != nil {
			return fmt.Errorf("backup: restore %s: %w", dst, err)
		}
	}
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, err
	}
	return n, out.Sync()
}
