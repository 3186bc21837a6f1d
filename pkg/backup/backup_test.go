package backup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateListRestore(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "shelf_data.db")
	cal := filepath.Join(dir, "calibration.json")
	if err := os.WriteFile(db, []byte("database-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cal, []byte(`{"version":2}`), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(filepath.Join(dir, "backups"), db, cal)

	entry, err := m.Create()
	if err != nil {
		t.Fatal(err)
	}
	if entry.SizeBytes == 0 {
		t.Error("backup size is zero")
	}

	entries, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != entry.Name {
		t.Fatalf("entries = %+v", entries)
	}

	// Corrupt the live files, then restore.
	if err := os.WriteFile(db, []byte("corrupted"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Restore(entry.Name); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(db)
	if string(got) != "database-bytes" {
		t.Errorf("restored database = %q", got)
	}
}

func TestRestoreRejectsTraversal(t *testing.T) {
	m := New(t.TempDir(), "db", "cal")
	for _, name := range []string{"", "..", "../x", "a/b", `a\b`} {
		if err := m.Restore(name); err == nil {
			t.Errorf("Restore(%q) accepted", name)
		}
	}
}

func TestListEmpty(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "missing"), "db", "cal")
	entries, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %+v", entries)
	}
}
