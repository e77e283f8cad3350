// Package profile decides, per source application and clipboard format,
// whether a format is worth capturing.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// UnknownApp is the profile key used when the clipboard owner is unknown.
const UnknownApp = "UNKNOWN"

// Profile is the capture policy for one application. Format keys are
// upper-cased format names.
type Profile struct {
	App     string          `json:"app"`
	Enabled bool            `json:"enabled"`
	Formats map[string]bool `json:"formats"`
}

// Store loads and saves profiles keyed by normalized application name.
type Store interface {
	Load(ctx context.Context) (map[string]Profile, error)
	Save(ctx context.Context, profiles map[string]Profile) error
}

// bitmapFamily formats are one equivalence class: enabling any variant
// captures all of them, whatever the OS happens to call them.
var bitmapFamily = map[string]struct{}{
	"CF_BITMAP":                   {},
	"CF_DIB":                      {},
	"CF_DIBV5":                    {},
	"BITMAP":                      {},
	"DIB":                         {},
	"DEVICE INDEPENDENT BITMAP":   {},
	"DEVICEINDEPENDENTBITMAP":     {},
	"FORMAT17":                    {},
	"SYSTEM.DRAWING.BITMAP":       {},
	"DEVICE INDEPENDENT BITMAPV5": {},
}

// Defaults returns the smart-default format map for a new profile.
func Defaults() map[string]bool {
	return map[string]bool{
		"CF_TEXT":                          true,
		"CF_OEMTEXT":                       true,
		"CF_UNICODETEXT":                   true,
		"CF_BITMAP":                        true,
		"CF_DIB":                           true,
		"CF_DIBV5":                         true,
		"CF_HDROP":                         true,
		"HTML FORMAT":                      true,
		"PNG":                              true,
		"RICH TEXT FORMAT":                 false,
		"RICH TEXT FORMAT WITHOUT OBJECTS": false,
		"RTF AS TEXT":                      false,
		"CF_LOCALE":                        false,
		"OLE PRIVATE DATA":                 false,
		"DATAOBJECT":                       false,
		"OBJECT DESCRIPTOR":                false,
	}
}

// NormalizeApp trims, strips a trailing executable extension and upper-cases
// an application name, so "Notepad.EXE" and "notepad" share a profile.
func NormalizeApp(name string) string {
	name = strings.TrimSpace(name)
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".exe") {
		name = name[:len(name)-len(ext)]
	}
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return UnknownApp
	}
	return name
}

func normalizeFormat(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Filter is the format capture filter. It is safe for concurrent use.
type Filter struct {
	store   Store
	enabled atomic.Bool

	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewFilter loads every stored profile. The profiles feature starts enabled.
func NewFilter(ctx context.Context, store Store) (*Filter, error) {
	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	f := &Filter{store: store, profiles: make(map[string]Profile, len(loaded))}
	for k, p := range loaded {
		f.profiles[NormalizeApp(k)] = normalizeProfile(p)
	}
	f.enabled.Store(true)
	return f, nil
}

func normalizeProfile(p Profile) Profile {
	formats := make(map[string]bool, len(p.Formats))
	for k, v := range p.Formats {
		formats[normalizeFormat(k)] = v
	}
	p.App = NormalizeApp(p.App)
	p.Formats = formats
	return p
}

// SetEnabled toggles the profiles feature for this session only.
func (f *Filter) SetEnabled(on bool) { f.enabled.Store(on) }

// Enabled reports whether the profiles feature is on.
func (f *Filter) Enabled() bool { return f.enabled.Load() }

// ShouldCapture reports whether format should be extracted when app owns the
// clipboard. Absent formats are not captured.
func (f *Filter) ShouldCapture(app, format string) bool {
	if !f.Enabled() {
		return false
	}
	p := f.GetOrCreateProfile(app)
	if !p.Enabled {
		return false
	}
	return allowed(p.Formats, format)
}

// Allows is what the watcher consults: the application's profile while the
// feature is on, the smart defaults while it is off.
func (f *Filter) Allows(app, format string) bool {
	if !f.Enabled() {
		return allowed(Defaults(), format)
	}
	return f.ShouldCapture(app, format)
}

func allowed(formats map[string]bool, format string) bool {
	key := normalizeFormat(format)
	if on, ok := formats[key]; ok && on {
		return true
	}
	if _, isBitmap := bitmapFamily[key]; isBitmap {
		for variant := range bitmapFamily {
			if formats[variant] {
				return true
			}
		}
	}
	return false
}

// GetOrCreateProfile returns the profile for app, creating and persisting one
// seeded with Defaults on first sight. A failed save is logged; the profile
// is still used for this session.
func (f *Filter) GetOrCreateProfile(app string) Profile {
	key := NormalizeApp(app)

	f.mu.RLock()
	p, ok := f.profiles[key]
	f.mu.RUnlock()
	if ok {
		return p
	}

	f.mu.Lock()
	if p, ok = f.profiles[key]; ok {
		f.mu.Unlock()
		return p
	}
	p = Profile{App: key, Enabled: true, Formats: Defaults()}
	f.profiles[key] = p
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	slog.Debug("application profile created", "app", key)
	if err := f.store.Save(context.Background(), snapshot); err != nil {
		slog.Warn("saving application profiles failed", "app", key, "err", err)
	}
	return p
}

// SetFormat enables or disables one format for app and persists the change.
func (f *Filter) SetFormat(ctx context.Context, app, format string, on bool) error {
	f.GetOrCreateProfile(app)
	key := NormalizeApp(app)

	f.mu.Lock()
	p := f.profiles[key]
	formats := maps.Clone(p.Formats)
	formats[normalizeFormat(format)] = on
	p.Formats = formats
	f.profiles[key] = p
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	return f.store.Save(ctx, snapshot)
}

// SetProfileEnabled turns capture for app on or off entirely.
func (f *Filter) SetProfileEnabled(ctx context.Context, app string, on bool) error {
	f.GetOrCreateProfile(app)
	key := NormalizeApp(app)

	f.mu.Lock()
	p := f.profiles[key]
	p.Enabled = on
	f.profiles[key] = p
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	return f.store.Save(ctx, snapshot)
}

// Profiles returns a copy of every known profile.
func (f *Filter) Profiles() map[string]Profile {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshotLocked()
}

func (f *Filter) snapshotLocked() map[string]Profile {
	out := make(map[string]Profile, len(f.profiles))
	for k, p := range f.profiles {
		p.Formats = maps.Clone(p.Formats)
		out[k] = p
	}
	return out
}
