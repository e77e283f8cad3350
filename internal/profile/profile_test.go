package profile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	saved map[string]Profile
	saves int
	err   error
}

func (m *memStore) Load(context.Context) (map[string]Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Profile, len(m.saved))
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(_ context.Context, p map[string]Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.saved = p
	return nil
}

func newFilter(t *testing.T, store *memStore) *Filter {
	t.Helper()
	f, err := NewFilter(context.Background(), store)
	require.NoError(t, err)
	return f
}

func TestNormalizeApp(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Notepad.EXE", "NOTEPAD"},
		{"notepad", "NOTEPAD"},
		{"  chrome.exe  ", "CHROME"},
		{"my.app", "MY.APP"},
		{"", UnknownApp},
		{"   ", UnknownApp},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeApp(tt.in), "NormalizeApp(%q)", tt.in)
	}
}

func TestGetOrCreateProfile_SeedsDefaultsAndPersists(t *testing.T) {
	store := &memStore{}
	f := newFilter(t, store)

	p := f.GetOrCreateProfile("Notepad.EXE")
	assert.Equal(t, "NOTEPAD", p.App)
	assert.True(t, p.Enabled)
	assert.True(t, p.Formats["CF_UNICODETEXT"])
	assert.False(t, p.Formats["RICH TEXT FORMAT"])
	assert.Equal(t, 1, store.saves)
	assert.Contains(t, store.saved, "NOTEPAD")

	again := f.GetOrCreateProfile("notepad")
	assert.Equal(t, p.App, again.App)
	assert.Equal(t, 1, store.saves, "existing profile must not be saved again")
}

func TestShouldCapture(t *testing.T) {
	f := newFilter(t, &memStore{})

	assert.True(t, f.ShouldCapture("notepad", "CF_UNICODETEXT"))
	assert.True(t, f.ShouldCapture("notepad", "html format"))
	assert.False(t, f.ShouldCapture("notepad", "Rich Text Format"))
	assert.False(t, f.ShouldCapture("notepad", "Some Private Format"), "absent formats are opt-in")
}

func TestShouldCapture_BitmapFamily(t *testing.T) {
	ctx := context.Background()
	f := newFilter(t, &memStore{})

	for _, variant := range []string{"CF_BITMAP", "CF_DIB", "CF_DIBV5"} {
		require.NoError(t, f.SetFormat(ctx, "paint", variant, false))
	}
	assert.False(t, f.ShouldCapture("paint", "Device Independent Bitmap"))

	require.NoError(t, f.SetFormat(ctx, "paint", "CF_DIB", true))
	assert.True(t, f.ShouldCapture("paint", "CF_BITMAP"))
	assert.True(t, f.ShouldCapture("paint", "CF_DIBV5"))
	assert.True(t, f.ShouldCapture("paint", "Device Independent Bitmap"))
}

func TestShouldCapture_Disabled(t *testing.T) {
	ctx := context.Background()
	f := newFilter(t, &memStore{})

	require.NoError(t, f.SetProfileEnabled(ctx, "keepass.exe", false))
	assert.False(t, f.ShouldCapture("KeePass", "CF_UNICODETEXT"))
	assert.True(t, f.ShouldCapture("notepad", "CF_UNICODETEXT"))

	f.SetEnabled(false)
	assert.False(t, f.ShouldCapture("notepad", "CF_UNICODETEXT"))
	assert.True(t, f.Allows("notepad", "CF_UNICODETEXT"), "defaults apply while the feature is off")
	assert.False(t, f.Allows("notepad", "Rich Text Format"))
}

func TestNewFilter_LoadsStoredProfiles(t *testing.T) {
	store := &memStore{saved: map[string]Profile{
		"word": {App: "word", Enabled: true, Formats: map[string]bool{"rich text format": true}},
	}}
	f := newFilter(t, store)

	assert.True(t, f.ShouldCapture("WORD.exe", "Rich Text Format"))
	assert.False(t, f.ShouldCapture("WORD.exe", "CF_TEXT"))
}

func TestGetOrCreateProfile_SaveFailureIsNotFatal(t *testing.T) {
	f := newFilter(t, &memStore{err: errors.New("disk full")})
	p := f.GetOrCreateProfile("terminal")
	assert.Equal(t, "TERMINAL", p.App)
	assert.True(t, f.ShouldCapture("terminal", "CF_TEXT"))
}
