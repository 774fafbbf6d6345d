package scanservice

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mrtrack/internal/apperr"
	"github.com/starford/mrtrack/internal/catalog"
	"github.com/starford/mrtrack/internal/scanid"
	"github.com/starford/mrtrack/internal/storage"
	"github.com/starford/mrtrack/internal/studyconfig"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(kind, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+path)
}

type env struct {
	dir    string
	svc    *Service
	events *recorder
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	require.NoError(t, err)
	db, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := studyconfig.NewRegistry(&studyconfig.File{
		Study:           "STU01",
		SiteIssuedStudy: "STX01",
		Sites:           []string{"UTO"},
		SiteMap:         map[string]string{"UTO": "UTP"},
		IDMap: []studyconfig.Entry{
			{Internal: scanid.SubjectRef{Subject: "10001", Site: "UTO"}, SiteIssued: scanid.SubjectRef{Subject: "A-17"}},
		},
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ix := catalog.NewIndexer(db, store, reg, nil, logger)
	rec := &recorder{}
	return env{dir: dir, svc: NewService(store, db, ix, reg, WithNotifier(rec.record)), events: rec}
}

func (e env) write(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), []byte(name), 0o644))
}

func TestParseLabel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id, err := e.svc.ParseLabel(ctx, "STX01_UTP_A-17_BL", 0, scanid.KindAny)
	require.NoError(t, err)
	assert.Equal(t, scanid.SiteIssued, id.Convention())

	_, err = e.svc.ParseLabel(ctx, "STU01_UTO_10001", scanid.Internal, scanid.KindPhantom)
	assert.ErrorIs(t, err, scanid.ErrGrammarMismatch)

	id, err = e.svc.ParseFile(ctx, "incoming/STU01_UTO_10001_01_SE01_T1_02.nii.gz", 0)
	require.NoError(t, err)
	assert.True(t, id.IsFile())
}

func TestTranslate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id, err := e.svc.ParseLabel(ctx, "STU01_UTO_10001_01_SE01", 0, scanid.KindAny)
	require.NoError(t, err)

	out, err := e.svc.Translate(ctx, id, scanid.SiteIssued)
	require.NoError(t, err)
	assert.Equal(t, "STX01_UTP_A-17_01_01", out.String())

	id, err = e.svc.ParseLabel(ctx, "STU01_UTO_10002", 0, scanid.KindAny)
	require.NoError(t, err)
	_, err = e.svc.Translate(ctx, id, scanid.SiteIssued)
	assert.ErrorIs(t, err, scanid.ErrUnmappedIdentifier)
}

func TestMatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.Match(ctx, "STX01_UTP_A-17_01", "STU01_UTO_10001_01_SE01", MatchOptions{})
	require.NoError(t, err)
	assert.False(t, res.Match, "different conventions never match as parsed")

	res, err = e.svc.Match(ctx, "STX01_UTP_A-17_01", "STU01_UTO_10001_01_SE01", MatchOptions{Canonical: true})
	require.NoError(t, err)
	assert.True(t, res.Match)

	ignore, err := ParseIgnore([]string{"timepoint", "session", "session"})
	require.NoError(t, err)
	assert.Len(t, ignore, 2)
	res, err = e.svc.Match(ctx, "STU01_UTO_10001_01_SE01", "STU01_UTO_10001_02_SE02", MatchOptions{Ignore: ignore})
	require.NoError(t, err)
	assert.True(t, res.Match)

	_, err = ParseIgnore([]string{"colour"})
	assert.Error(t, err)

	_, err = e.svc.Match(ctx, "garbage", "STU01_UTO_10001", MatchOptions{})
	assert.ErrorIs(t, err, scanid.ErrGrammarMismatch)
}

func TestRelabel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "STX01_UTP_A-17_01_T2_flair_04.nii.gz")
	_, err := e.svc.Sync(ctx)
	require.NoError(t, err)

	dry, err := e.svc.Relabel(ctx, "STX01_UTP_A-17_01_T2_flair_04.nii.gz", true)
	require.NoError(t, err)
	assert.True(t, dry.Changed)
	assert.Equal(t, "STU01_UTO_10001_01_SE01_T2_flair_04.nii.gz", dry.To)
	assert.FileExists(t, filepath.Join(e.dir, "STX01_UTP_A-17_01_T2_flair_04.nii.gz"))

	res, err := e.svc.Relabel(ctx, "STX01_UTP_A-17_01_T2_flair_04.nii.gz", false)
	require.NoError(t, err)
	assert.Equal(t, dry.To, res.To)
	assert.FileExists(t, filepath.Join(e.dir, res.To))

	_, err = e.svc.GetScan(ctx, "STX01_UTP_A-17_01_T2_flair_04.nii.gz")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	scan, err := e.svc.GetScan(ctx, res.To)
	require.NoError(t, err)
	assert.Equal(t, "internal", scan.Convention)

	assert.Equal(t, []string{
		"deleted:STX01_UTP_A-17_01_T2_flair_04.nii.gz",
		"created:" + res.To,
	}, e.events.events)

	again, err := e.svc.Relabel(ctx, res.To, false)
	require.NoError(t, err)
	assert.False(t, again.Changed)
}

func TestRelabel_SiteIssuedPhantom(t *testing.T) {
	e := newEnv(t)
	e.write(t, "STX01_UTP_LEGOPHA_0012_QA.nii")

	res, err := e.svc.Relabel(context.Background(), "STX01_UTP_LEGOPHA_0012_QA.nii", true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "STU01_UTO_PHA_LEGO_12_QA.nii", res.To)
}

func TestRelabel_RefusesOverwrite(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "STX01_UTP_A-17_01_T1.nii")
	e.write(t, "STU01_UTO_10001_01_SE01_T1.nii")

	_, err := e.svc.Relabel(ctx, "STX01_UTP_A-17_01_T1.nii", false)
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
	assert.FileExists(t, filepath.Join(e.dir, "STX01_UTP_A-17_01_T1.nii"))
}

func TestRelabel_Unmapped(t *testing.T) {
	e := newEnv(t)
	e.write(t, "STX01_UTP_Z-9_01_T1.nii")
	_, err := e.svc.Relabel(context.Background(), "STX01_UTP_Z-9_01_T1.nii", false)
	assert.ErrorIs(t, err, scanid.ErrUnmappedIdentifier)
}

func TestSessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.write(t, "STU01_UTO_10001_01_SE01_T1.nii")
	e.write(t, "STX01_UTP_A-17_01_T2.nii")
	e.write(t, "STU01_UTO_10001_02_SE01_T1.nii")
	_, err := e.svc.Sync(ctx)
	require.NoError(t, err)

	sessions, err := e.svc.Sessions(ctx, "stu01", "10001")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Len(t, sessions[0].Scans, 2)

	_, err = e.svc.Sessions(ctx, "NOPE", "1")
	assert.ErrorIs(t, err, apperr.ErrUnknownStudy)
}
