package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipkeep/internal/model"
	"go.klb.dev/clipkeep/internal/store"
)

// run executes the root command against dir and returns its stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--data-dir", dir))
	err := root.Execute()
	return out.String(), err
}

func seedClip(t *testing.T, dir, body string) uint {
	t.Helper()
	ctx := context.Background()
	reg := store.NewRegistry(store.Options{Dir: dir})
	defer reg.Close()
	d, err := reg.Open(ctx, store.DefaultKey)
	require.NoError(t, err)

	p := text(body)
	var id uint
	require.NoError(t, d.Do(ctx, func(s *store.Session) error {
		inbox, err := s.CollectionByTitle(store.InboxTitle)
		if err != nil {
			return err
		}
		id, err = s.Persist(&model.Clip{
			CollectionID: inbox.ID,
			Title:        body,
			Kind:         model.KindText,
			Hash:         model.HashPayload(p),
			CapturedAt:   time.Now(),
			SourceApp:    "NOTEPAD",
		}, []model.Payload{p})
		return err
	}))
	return id
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CLIPKEEP_SOCKET", filepath.Join(dir, "clipkeep.sock"))
	t.Setenv("HOME", dir)
	return dir
}

func TestCLICollections(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, dir, "collections", "add", "Work", "--accepts")
	require.NoError(t, err)
	assert.Contains(t, out, `"Work"`)

	_, err = run(t, dir, "collections", "activate", "work")
	require.NoError(t, err)

	_, err = run(t, dir, "collections", "retention", "Work", "--max-clips", "10", "--overflow", "Overflow")
	require.NoError(t, err)

	out, err = run(t, dir, "collections", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "Inbox")
	assert.Contains(t, out, "Trashcan")
	assert.Regexp(t, `\*\s+\d+\s+Work\s+normal\s+0\s+10`, out)

	_, err = run(t, dir, "collections", "activate", "Trashcan")
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCLIClipLifecycle(t *testing.T) {
	dir := isolate(t)
	id := seedClip(t, dir, "Hello clipboard")
	ref := strconv.FormatUint(uint64(id), 10)

	out, err := run(t, dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello clipboard")

	out, err = run(t, dir, "show", ref)
	require.NoError(t, err)
	assert.Contains(t, out, model.FormatUnicodeText)
	assert.Contains(t, out, "NOTEPAD")

	out, err = run(t, dir, "search", "clipboard")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello clipboard")

	_, err = run(t, dir, "set", ref, "--title", "Greeting", "--favorite")
	require.NoError(t, err)
	out, err = run(t, dir, "list", "Inbox")
	require.NoError(t, err)
	assert.Contains(t, out, "* Greeting")

	_, err = run(t, dir, "delete", ref)
	require.NoError(t, err)
	out, err = run(t, dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No clips.")
	out, err = run(t, dir, "list", "--trash")
	require.NoError(t, err)
	assert.Contains(t, out, "Greeting")

	_, err = run(t, dir, "restore", ref)
	require.NoError(t, err)

	out, err = run(t, dir, "purge", ref)
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 1 clip(s).")

	_, err = run(t, dir, "show", ref)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCLIShowByHash(t *testing.T) {
	dir := isolate(t)
	seedClip(t, dir, "find me by content")
	hash := model.HashPayload(text("find me by content")).String()

	out, err := run(t, dir, "show", "--hash", hash)
	require.NoError(t, err)
	assert.Contains(t, out, "find me by content")
	assert.Regexp(t, `Hash:\s+`+hash, out)

	_, err = run(t, dir, "show", "--hash", "0")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = run(t, dir, "show", "--hash", "not-hex")
	assert.Error(t, err)

	_, err = run(t, dir, "show", "1", "--hash", hash)
	assert.Error(t, err)

	_, err = run(t, dir, "show")
	assert.Error(t, err)
}

func TestCLIMoveAcrossDatabases(t *testing.T) {
	dir := isolate(t)
	id := seedClip(t, dir, "portable")
	ref := strconv.FormatUint(uint64(id), 10)

	out, err := run(t, dir, "move", ref, "Safe", "--to-db", "archive")
	require.NoError(t, err)
	assert.Contains(t, out, `Moved clip`)

	out, err = run(t, dir, "list", "Safe", "--db", "archive")
	require.NoError(t, err)
	assert.Contains(t, out, "portable")

	out, err = run(t, dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No clips.")
}

func TestCLIEnforceRunsLocallyWithoutDaemon(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, dir, "enforce")
	require.NoError(t, err)
	assert.Contains(t, out, "Relocated 0 clip(s).")
}

func TestCLIRejectsBadIDs(t *testing.T) {
	dir := isolate(t)

	_, err := run(t, dir, "delete", "abc")
	assert.ErrorContains(t, err, `invalid id "abc"`)
	_, err = run(t, dir, "purge", "0")
	assert.Error(t, err)
}

func TestParseSwitch(t *testing.T) {
	for in, want := range map[string]bool{"on": true, "off": false, "true": true, "0": false, "yes": true} {
		got, err := parseSwitch(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseSwitch("maybe")
	assert.Error(t, err)
}

func TestFmtSize(t *testing.T) {
	assert.Equal(t, "512B", fmtSize(512))
	assert.Equal(t, "2.0K", fmtSize(2048))
	assert.Equal(t, "1.5M", fmtSize(3<<19))
}
