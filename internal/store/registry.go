package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go.klb.dev/clipkeep/internal/logging"
	"go.klb.dev/clipkeep/internal/model"
)

// DefaultKey names the database used when none is configured.
const DefaultKey = "default"

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// DatabaseOptions are the per-database flags from configuration.
type DatabaseOptions struct {
	ReadOnly bool `mapstructure:"read_only"`
	Backup   bool `mapstructure:"backup"`
}

// Retention is the limit set applied to a collection.
type Retention struct {
	MaxClips   int   `mapstructure:"max_clips"`
	MaxBytes   int64 `mapstructure:"max_bytes"`
	MaxAgeDays int   `mapstructure:"max_age_days"`
}

// Options configure a Registry.
type Options struct {
	Dir         string
	Databases   map[string]DatabaseOptions
	Inbox       Retention
	AutoRetitle bool
	CacheSize   int
	CacheTTL    time.Duration
	Validator   Validator
	Now         func() time.Time
}

// Registry owns every open history database, keyed by name. Each entry
// carries its own search cache, cleared when the database is unloaded.
type Registry struct {
	opts Options

	mu  sync.Mutex
	dbs map[string]*Database
}

// NewRegistry returns a registry rooted at opts.Dir. Nothing is opened yet.
func NewRegistry(opts Options) *Registry {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Validator == nil {
		opts.Validator = KeywordValidator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.Databases) > 0 {
		dbs := make(map[string]DatabaseOptions, len(opts.Databases))
		for k, v := range opts.Databases {
			dbs[strings.ToLower(k)] = v
		}
		opts.Databases = dbs
	}
	return &Registry{opts: opts, dbs: make(map[string]*Database)}
}

// Path returns the file backing key.
func (r *Registry) Path(key string) string {
	return filepath.Join(r.opts.Dir, strings.ToLower(key)+".db")
}

// Open returns the database for key, opening, migrating and seeding it on
// first use. Keys are case-insensitive; configuration loaders lower-case
// map keys, so the registry does too.
func (r *Registry) Open(ctx context.Context, key string) (*Database, error) {
	if key == "" {
		key = DefaultKey
	}
	if !keyPattern.MatchString(key) {
		return nil, fmt.Errorf("invalid database key %q", key)
	}
	key = strings.ToLower(key)

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.dbs[key]; ok {
		return d, nil
	}

	d, err := r.open(ctx, key)
	if err != nil {
		return nil, err
	}
	r.dbs[key] = d
	return d, nil
}

func (r *Registry) open(ctx context.Context, key string) (*Database, error) {
	log := logging.For("store")
	if err := os.MkdirAll(r.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	path := r.Path(key)
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", key, err)
	}

	flags := r.opts.Databases[key]
	d := newDatabase(key, gdb, flags, r.opts)

	if flags.Backup {
		if err := d.Backup(ctx, path+".bak"); err != nil {
			log.Warn("database backup failed", "db", key, "err", err)
		}
	}

	if err := gdb.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		_ = d.close()
		return nil, fmt.Errorf("migrate database %q: %w", key, err)
	}
	if err := seed(ctx, gdb, r.opts.Inbox); err != nil {
		_ = d.close()
		return nil, fmt.Errorf("seed database %q: %w", key, err)
	}

	log.Info("database opened", "db", key, "path", path, "read_only", flags.ReadOnly)
	return d, nil
}

// Unload closes the database for key and clears its cached state.
func (r *Registry) Unload(key string) error {
	key = strings.ToLower(key)
	r.mu.Lock()
	d, ok := r.dbs[key]
	delete(r.dbs, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	logging.For("store").Debug("database unloaded", "db", key)
	return d.close()
}

// Keys lists the currently open databases.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.dbs))
	for k := range r.dbs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Close unloads every database.
func (r *Registry) Close() error {
	var errs []error
	for _, k := range r.Keys() {
		errs = append(errs, r.Unload(k))
	}
	return errors.Join(errs...)
}
