package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"

	"go.klb.dev/clipkeep/internal/metrics"
	"go.klb.dev/clipkeep/internal/model"
)

// Database is one open history database.
type Database struct {
	Key         string
	ReadOnly    bool
	AutoRetitle bool

	db        *gorm.DB
	validator Validator

	// gen advances on every committed write. A search only caches its
	// result if no write committed while it ran.
	cacheMu sync.Mutex
	cache   *expirable.LRU[string, []model.Clip]
	gen     uint64

	now       func() time.Time
}

func newDatabase(key string, gdb *gorm.DB, flags DatabaseOptions, opts Options) *Database {
	return &Database{
		Key:         key,
		ReadOnly:    flags.ReadOnly,
		AutoRetitle: opts.AutoRetitle,
		db:          gdb,
		cache:       expirable.NewLRU[string, []model.Clip](opts.CacheSize, nil, opts.CacheTTL),
		validator:   opts.Validator,
		now:         opts.Now,
	}
}

// Gorm exposes the underlying handle for stores that share the database,
// such as application profiles.
func (d *Database) Gorm() *gorm.DB { return d.db }

// Now returns the database clock.
func (d *Database) Now() time.Time { return d.now() }

// Do runs fn in one transaction. Nothing fn writes survives an error or a
// cancelled ctx. A committed write clears the search cache.
func (d *Database) Do(ctx context.Context, fn func(*Session) error) error {
	var dirty bool
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s := &Session{tx: tx, d: d}
		if err := fn(s); err != nil {
			return err
		}
		dirty = s.dirty
		return ctx.Err()
	})
	if err == nil && dirty {
		d.cacheMu.Lock()
		d.gen++
		d.cache.Purge()
		d.cacheMu.Unlock()
	}
	return err
}

func (d *Database) generation() uint64 {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	return d.gen
}

// cacheResult stores clips under key unless a write has committed since gen
// was read.
func (d *Database) cacheResult(key string, clips []model.Clip, gen uint64) bool {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if d.gen != gen {
		return false
	}
	d.cache.Add(key, clips)
	return true
}

// Search returns non-deleted clips whose title or text payload contains
// query, newest first. Results are cached until the next write.
func (d *Database) Search(ctx context.Context, query string, limit int) ([]model.Clip, error) {
	if limit <= 0 {
		limit = 50
	}
	key := strconv.Itoa(limit) + "\x00" + query
	if hit, ok := d.cache.Get(key); ok {
		metrics.SearchCache.WithLabelValues("hit").Inc()
		return hit, nil
	}
	metrics.SearchCache.WithLabelValues("miss").Inc()

	gen := d.generation()
	var clips []model.Clip
	like := "%" + query + "%"
	err := d.db.WithContext(ctx).Raw(`SELECT DISTINCT clips.* FROM clips
	LEFT JOIN blob_txt ON blob_txt.clip_id = clips.id
	WHERE clips.deleted = ? AND (clips.title LIKE ? OR blob_txt.data LIKE ?)
	ORDER BY clips.captured_at DESC, clips.id DESC
	LIMIT ?`, false, like, like, limit).Scan(&clips).Error
	if err != nil {
		return nil, fmt.Errorf("search clips: %w", err)
	}
	d.cacheResult(key, clips, gen)
	return clips, nil
}

// CachedSearches returns the number of cached search results.
func (d *Database) CachedSearches() int { return d.cache.Len() }

// Backup writes a consistent copy of the database to path, replacing any
// previous copy.
func (d *Database) Backup(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old backup: %w", err)
	}
	if err := d.db.WithContext(ctx).Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("backup database %q: %w", d.Key, err)
	}
	return nil
}

func (d *Database) close() error {
	d.cache.Purge()
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
