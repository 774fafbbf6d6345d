// Package testutil provides shared test helpers for setting up incoming
// roots, catalogs and study registries.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mrtrack/internal/catalog"
	"github.com/starford/mrtrack/internal/scanid"
	"github.com/starford/mrtrack/internal/scanservice"
	"github.com/starford/mrtrack/internal/storage"
	"github.com/starford/mrtrack/internal/studyconfig"
)

// TestDB creates a temporary SQLite catalog that is automatically cleaned up.
func TestDB(t *testing.T) *catalog.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mrtrack-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := catalog.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestIncoming creates a temporary incoming root with a storage.Provider.
func TestIncoming(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestStudies returns a registry with one study, STU01, whose scanner
// site UTO is known to the site as UTP and whose subject 10001 was
// registered there as A-17.
func TestStudies(t *testing.T) *studyconfig.Registry {
	t.Helper()
	reg, err := studyconfig.NewRegistry(&studyconfig.File{
		Study:           "STU01",
		SiteIssuedStudy: "STX01",
		ArchiveProject:  "STU01_UTO",
		Sites:           []string{"UTO"},
		SiteMap:         map[string]string{"UTO": "UTP"},
		IDMap: []studyconfig.Entry{
			{Internal: scanid.SubjectRef{Subject: "10001", Site: "UTO"}, SiteIssued: scanid.SubjectRef{Subject: "A-17"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// TestService wires a Service over a fresh incoming root, catalog and
// the TestStudies registry.
func TestService(t *testing.T, opts ...scanservice.Option) (string, *scanservice.Service) {
	t.Helper()
	dir, store := TestIncoming(t)
	db := TestDB(t)
	reg := TestStudies(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ix := catalog.NewIndexer(db, store, reg, nil, logger)
	return dir, scanservice.NewService(store, db, ix, reg, opts...)
}

// WriteFile creates a scan file under dir, making parent directories.
func WriteFile(t *testing.T, dir, name string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
		t.Fatal(err)
	}
}
