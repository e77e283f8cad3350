package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/model"
)

func openTest(t *testing.T, key string, opts Options) *Database {
	t.Helper()
	opts.Dir = t.TempDir()
	reg := NewRegistry(opts)
	t.Cleanup(func() { _ = reg.Close() })
	d, err := reg.Open(context.Background(), key)
	require.NoError(t, err)
	return d
}

func textPayload(s string) model.Payload {
	return model.Payload{Code: model.CodeUnicodeText, Name: model.FormatUnicodeText, Storage: model.StorageText, Data: []byte(s)}
}

func persist(t *testing.T, d *Database, collection string, payloads ...model.Payload) uint {
	t.Helper()
	var id uint
	err := d.Do(context.Background(), func(s *Session) error {
		col, err := s.CollectionByTitle(collection)
		if err != nil {
			return err
		}
		primary, _ := model.Primary(payloads)
		c := &model.Clip{
			CollectionID: col.ID,
			Title:        string(primary.Data),
			Hash:         model.HashPayload(primary),
			Kind:         model.KindOf(primary),
			CapturedAt:   time.Now(),
		}
		id, err = s.Persist(c, payloads)
		return err
	})
	require.NoError(t, err)
	return id
}

func count(t *testing.T, d *Database, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, d.Gorm().Model(m).Count(&n).Error)
	return n
}

func TestSeededCollections(t *testing.T) {
	d := openTest(t, "", Options{Inbox: Retention{MaxClips: 200}})
	assert.Equal(t, DefaultKey, d.Key)

	err := d.Do(context.Background(), func(s *Session) error {
		cols, err := s.Collections()
		require.NoError(t, err)
		require.Len(t, cols, 4)
		assert.Equal(t, []string{InboxTitle, OverflowTitle, SafeTitle, TrashTitle},
			[]string{cols[0].Title, cols[1].Title, cols[2].Title, cols[3].Title})

		inbox := cols[0]
		assert.True(t, inbox.Active)
		assert.True(t, inbox.AcceptsNewClips)
		assert.Equal(t, 200, inbox.MaxClips)
		require.NotNil(t, inbox.OverflowID)
		assert.Equal(t, cols[1].ID, *inbox.OverflowID)
		assert.Equal(t, model.CollectionTrashcan, cols[3].Kind)
		return nil
	})
	require.NoError(t, err)
}

func TestMultiFormatRoundTrip(t *testing.T) {
	d := openTest(t, "roundtrip", Options{})
	payloads := []model.Payload{
		textPayload("Hello"),
		{Code: model.CodeHTML, Name: model.FormatHTML, Storage: model.StorageText, Data: []byte("<b>Hello</b>")},
		{Code: model.CodePNG, Name: model.FormatPNG, Storage: model.StoragePNG, Data: []byte{0x89, 'P', 'N', 'G', 0, 1}},
		{Code: model.CodeJPEG, Name: model.FormatJPEG, Storage: model.StorageJPEG, Data: []byte{0xFF, 0xD8, 0xFF}},
		{Code: 49321, Name: "Custom Private", Storage: model.StorageBinary, Data: []byte{0, 0, 7}},
	}
	id := persist(t, d, InboxTitle, payloads...)

	err := d.Do(context.Background(), func(s *Session) error {
		formats, err := s.LoadFormats(id)
		require.NoError(t, err)
		require.Len(t, formats, len(payloads))
		for i, f := range formats {
			assert.Equal(t, payloads[i].Name, f.FormatName)
			assert.Equal(t, payloads[i].Code, f.FormatCode)
			assert.Equal(t, payloads[i].Storage, f.Storage)
			assert.True(t, bytes.Equal(payloads[i].Data, f.Data), "format %s", f.FormatName)
			assert.Equal(t, int64(len(payloads[i].Data)), f.Size)
			assert.Equal(t, checksum(payloads[i].Data), f.Checksum)
		}

		c, err := s.Clip(id)
		require.NoError(t, err)
		var total int64
		for _, p := range payloads {
			total += int64(len(p.Data))
		}
		assert.Equal(t, total, c.Size)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), count(t, d, &model.TextPayload{}))
	assert.Equal(t, int64(1), count(t, d, &model.PNGPayload{}))
	assert.Equal(t, int64(1), count(t, d, &model.JPEGPayload{}))
	assert.Equal(t, int64(1), count(t, d, &model.BinaryPayload{}))
}

func TestPersistUnknownStorageWritesNothing(t *testing.T) {
	d := openTest(t, "bad", Options{})
	err := d.Do(context.Background(), func(s *Session) error {
		_, err := s.Persist(&model.Clip{CollectionID: 1, CapturedAt: time.Now()}, []model.Payload{
			textPayload("fine"),
			{Name: "weird", Storage: "bogus", Data: []byte("x")},
		})
		return err
	})
	require.ErrorIs(t, err, ErrUnknownStorage)
	assert.Zero(t, count(t, d, &model.Clip{}))
	assert.Zero(t, count(t, d, &model.ClipData{}))
}

func TestDoRollsBackOnError(t *testing.T) {
	d := openTest(t, "rollback", Options{})
	err := d.Do(context.Background(), func(s *Session) error {
		if _, err := s.Persist(&model.Clip{CollectionID: 1, CapturedAt: time.Now()}, []model.Payload{textPayload("x")}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, count(t, d, &model.Clip{}))
	assert.Zero(t, count(t, d, &model.TextPayload{}))
}

func TestDoHonoursCancelledContext(t *testing.T) {
	d := openTest(t, "cancel", Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Do(ctx, func(s *Session) error {
		_, err := s.Persist(&model.Clip{CollectionID: 1, CapturedAt: time.Now()}, []model.Payload{textPayload("x")})
		return err
	})
	require.Error(t, err)
	assert.Zero(t, count(t, d, &model.Clip{}))
}

func TestDeleteAllIsComplete(t *testing.T) {
	d := openTest(t, "delete", Options{})
	keep := persist(t, d, InboxTitle, textPayload("keep"))
	gone := persist(t, d, InboxTitle,
		textPayload("gone"),
		model.Payload{Code: model.CodePNG, Name: model.FormatPNG, Storage: model.StoragePNG, Data: []byte{1, 2}},
	)

	ctx := context.Background()
	require.NoError(t, d.Do(ctx, func(s *Session) error { return s.DeleteAll(gone) }))

	assert.Equal(t, int64(1), count(t, d, &model.Clip{}))
	assert.Equal(t, int64(1), count(t, d, &model.ClipData{}))
	assert.Equal(t, int64(1), count(t, d, &model.TextPayload{}))
	assert.Zero(t, count(t, d, &model.PNGPayload{}))

	err := d.Do(ctx, func(s *Session) error { return s.DeleteAll(gone) })
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.Do(ctx, func(s *Session) error {
		formats, err := s.LoadFormats(keep)
		require.NoError(t, err)
		assert.Len(t, formats, 1)
		return nil
	}))
}

func TestLoadFormatsDetectsMissingPayload(t *testing.T) {
	d := openTest(t, "integrity", Options{})
	id := persist(t, d, InboxTitle, textPayload("orphan"))
	require.NoError(t, d.Gorm().Where("clip_id = ?", id).Delete(&model.TextPayload{}).Error)

	err := d.Do(context.Background(), func(s *Session) error {
		_, err := s.LoadFormats(id)
		return err
	})
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestFindByHashIsDatabaseWide(t *testing.T) {
	d := openTest(t, "dedup", Options{})
	id := persist(t, d, SafeTitle, textPayload("shared"))
	h := model.HashPayload(textPayload("shared"))

	ctx := context.Background()
	require.NoError(t, d.Do(ctx, func(s *Session) error {
		got, ok, err := s.FindByHash(h)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, id, got)

		_, ok, err = s.FindByHash(model.HashPayload(textPayload("other")))
		require.NoError(t, err)
		assert.False(t, ok)
		return s.SoftDelete(id)
	}))

	require.NoError(t, d.Do(ctx, func(s *Session) error {
		_, ok, err := s.FindByHash(h)
		require.NoError(t, err)
		assert.False(t, ok, "soft-deleted clips are not duplicates")
		return nil
	}))
}

func TestTouchRetitles(t *testing.T) {
	d := openTest(t, "touch", Options{AutoRetitle: true})
	id := persist(t, d, InboxTitle, textPayload("first"))
	later := time.Now().Add(time.Hour)

	ctx := context.Background()
	require.NoError(t, d.Do(ctx, func(s *Session) error {
		c, err := s.Touch(id, Recapture{At: later, Source: clip.Source{App: "EDITOR"}, Title: "retitled"})
		require.NoError(t, err)
		assert.Equal(t, "retitled", c.Title)
		assert.Equal(t, "EDITOR", c.SourceApp)
		assert.WithinDuration(t, later, c.CapturedAt, time.Millisecond)

		require.NoError(t, s.Rename(id, "mine"))
		c, err = s.Touch(id, Recapture{At: later, Title: "ignored"})
		require.NoError(t, err)
		assert.Equal(t, "mine", c.Title)
		assert.True(t, c.CustomTitle)
		return nil
	}))
}

func TestResolveDestination(t *testing.T) {
	d := openTest(t, "route", Options{})
	ctx := context.Background()

	require.NoError(t, d.Do(ctx, func(s *Session) error {
		col, err := s.ResolveDestination()
		require.NoError(t, err)
		assert.Equal(t, InboxTitle, col.Title)

		safe, err := s.CollectionByTitle(SafeTitle)
		require.NoError(t, err)
		require.NoError(t, s.SetActive(safe.ID))

		col, err = s.ResolveDestination()
		require.NoError(t, err)
		assert.Equal(t, InboxTitle, col.Title, "inactive but accepting collection is the fallback")
		return nil
	}))

	require.NoError(t, d.Gorm().Model(&model.Collection{}).Where("1 = 1").Update("accepts_new_clips", false).Error)
	err := d.Do(ctx, func(s *Session) error {
		_, err := s.ResolveDestination()
		return err
	})
	assert.ErrorIs(t, err, ErrNoDestination)
}

func TestSetActiveRejectsVirtualAndTrash(t *testing.T) {
	d := openTest(t, "active", Options{})
	err := d.Do(context.Background(), func(s *Session) error {
		trash, err := s.CollectionByTitle(TrashTitle)
		require.NoError(t, err)
		return s.SetActive(trash.ID)
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReadOnlyDatabaseRejectsWrites(t *testing.T) {
	d := openTest(t, "archive", Options{Databases: map[string]DatabaseOptions{"archive": {ReadOnly: true}}})
	require.True(t, d.ReadOnly)

	err := d.Do(context.Background(), func(s *Session) error {
		_, err := s.Persist(&model.Clip{CollectionID: 1}, []model.Payload{textPayload("x")})
		return err
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestDatabaseKeysAreCaseInsensitive(t *testing.T) {
	reg := NewRegistry(Options{Dir: t.TempDir(), Databases: map[string]DatabaseOptions{"Work": {ReadOnly: true}}})
	t.Cleanup(func() { _ = reg.Close() })
	ctx := context.Background()

	d, err := reg.Open(ctx, "Work")
	require.NoError(t, err)
	assert.Equal(t, "work", d.Key)
	assert.True(t, d.ReadOnly)

	err = d.Do(ctx, func(s *Session) error {
		_, err := s.Persist(&model.Clip{CollectionID: 1}, []model.Payload{textPayload("x")})
		return err
	})
	assert.ErrorIs(t, err, ErrReadOnly)

	again, err := reg.Open(ctx, "WORK")
	require.NoError(t, err)
	assert.Same(t, d, again)
	assert.Equal(t, reg.Path("work"), reg.Path("Work"))

	require.NoError(t, reg.Unload("Work"))
	assert.Empty(t, reg.Keys())
}

func TestSoftDeleteRestoreEmptyTrash(t *testing.T) {
	d := openTest(t, "trash", Options{})
	a := persist(t, d, InboxTitle, textPayload("a"))
	b := persist(t, d, InboxTitle, textPayload("b"))
	ctx := context.Background()

	require.NoError(t, d.Do(ctx, func(s *Session) error { return s.SoftDelete(a, b) }))
	require.NoError(t, d.Do(ctx, func(s *Session) error {
		trash, err := s.CollectionByTitle(TrashTitle)
		require.NoError(t, err)
		clips, err := s.List(trash.ID, 0)
		require.NoError(t, err)
		assert.Len(t, clips, 2)
		for _, c := range clips {
			assert.NotNil(t, c.DeletedOn)
		}
		return s.Restore(a)
	}))

	var emptied int
	require.NoError(t, d.Do(ctx, func(s *Session) error {
		c, err := s.Clip(a)
		require.NoError(t, err)
		assert.False(t, c.Deleted)

		emptied, err = s.EmptyTrash()
		return err
	}))
	assert.Equal(t, 1, emptied)
	assert.Equal(t, int64(1), count(t, d, &model.Clip{}))
	assert.Equal(t, int64(1), count(t, d, &model.TextPayload{}))
}

func TestSearchIsCachedUntilWrite(t *testing.T) {
	d := openTest(t, "search", Options{})
	persist(t, d, InboxTitle, textPayload("alpha beta"))
	persist(t, d, InboxTitle, textPayload("gamma"))
	ctx := context.Background()

	got, err := d.Search(ctx, "beta", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, d.CachedSearches())

	persist(t, d, InboxTitle, textPayload("beta again"))
	assert.Equal(t, 0, d.CachedSearches())

	got, err = d.Search(ctx, "beta", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearchResultDiscardedAfterConcurrentWrite(t *testing.T) {
	d := openTest(t, "search-race", Options{})
	persist(t, d, InboxTitle, textPayload("beta"))
	ctx := context.Background()

	gen := d.generation()
	stale, err := d.Search(ctx, "beta", 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	d.cache.Purge()

	persist(t, d, InboxTitle, textPayload("beta again"))
	assert.False(t, d.cacheResult("10\x00beta", stale, gen))
	assert.Equal(t, 0, d.CachedSearches())

	got, err := d.Search(ctx, "beta", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, d.CachedSearches())

	require.NoError(t, d.Do(ctx, func(s *Session) error {
		_, err := s.CollectionByTitle(InboxTitle)
		return err
	}))
	assert.Equal(t, 1, d.CachedSearches())
	assert.True(t, d.cacheResult("10\x00other", nil, d.generation()))
}

func TestVirtualCollection(t *testing.T) {
	d := openTest(t, "virtual", Options{})
	persist(t, d, InboxTitle, textPayload("today"))
	ctx := context.Background()

	require.NoError(t, d.Do(ctx, func(s *Session) error {
		v := &model.Collection{
			Title:         "Recent",
			Kind:          model.CollectionVirtual,
			MaxAgeDays:    7,
			QueryTemplate: "SELECT * FROM clips WHERE deleted = 0 AND captured_at >= {{cutoff}}",
		}
		require.NoError(t, s.CreateCollection(v))
		assert.False(t, v.AcceptsNewClips)

		clips, err := s.List(v.ID, 0)
		require.NoError(t, err)
		assert.Len(t, clips, 1)
		return nil
	}))

	err := d.Do(ctx, func(s *Session) error {
		return s.CreateCollection(&model.Collection{
			Title:         "Evil",
			Kind:          model.CollectionVirtual,
			QueryTemplate: "DELETE FROM clips",
		})
	})
	require.ErrorIs(t, err, ErrValidation)

	require.NoError(t, d.Gorm().Create(&model.Collection{
		Title: "Sneaky", Kind: model.CollectionVirtual, SortKey: 99,
		QueryTemplate: "SELECT * FROM clips; DELETE FROM clips",
	}).Error)
	err = d.Do(ctx, func(s *Session) error {
		col, err := s.CollectionByTitle("Sneaky")
		require.NoError(t, err)
		_, err = s.List(col.ID, 0)
		return err
	})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, int64(1), count(t, d, &model.Clip{}), "rejected query never runs")
}

func TestKeywordValidator(t *testing.T) {
	v := KeywordValidator{}
	ok := []string{
		"SELECT * FROM clips",
		"select id from clips where title = 'drop table';",
		"WITH x AS (SELECT * FROM clips) SELECT * FROM x",
	}
	for _, q := range ok {
		assert.NoError(t, v.Validate(q), q)
	}
	bad := []string{
		"",
		"DELETE FROM clips",
		"SELECT 1; DROP TABLE clips",
		"SELECT * FROM clips -- comment",
		"PRAGMA table_info(clips)",
		"WITH x AS (SELECT 1) UPDATE clips SET title = 'x'",
		"ATTACH DATABASE 'x' AS y",
	}
	for _, q := range bad {
		assert.ErrorIs(t, v.Validate(q), ErrValidation, q)
	}
}

func TestExpandTemplate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	got := expandTemplate("a {{today}} b {{cutoff}}", now, 9)
	assert.Equal(t, "a '2026-03-10' b '2026-03-01'", got)
}

func TestRegistryUnloadClearsState(t *testing.T) {
	reg := NewRegistry(Options{Dir: t.TempDir()})
	t.Cleanup(func() { _ = reg.Close() })
	ctx := context.Background()

	a, err := reg.Open(ctx, "one")
	require.NoError(t, err)
	again, err := reg.Open(ctx, "one")
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Equal(t, []string{"one"}, reg.Keys())

	_, err = a.Search(ctx, "x", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, a.CachedSearches())

	require.NoError(t, reg.Unload("one"))
	assert.Equal(t, 0, a.CachedSearches())
	assert.Empty(t, reg.Keys())

	b, err := reg.Open(ctx, "one")
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	_, err = reg.Open(ctx, "../escape")
	assert.Error(t, err)
}

func TestExclusionFilters(t *testing.T) {
	d := openTest(t, "filters", Options{})
	err := d.Do(context.Background(), func(s *Session) error {
		_, err := s.AddExclusionFilter("", "")
		assert.ErrorIs(t, err, ErrValidation)

		_, err = s.AddExclusionFilter("keepass", "")
		require.NoError(t, err)
		_, err = s.AddExclusionFilter("", "*password*")
		require.NoError(t, err)

		rows, err := s.ExclusionFilters()
		require.NoError(t, err)
		assert.Len(t, rows, 2)
		return nil
	})
	require.NoError(t, err)
}
