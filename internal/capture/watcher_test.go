package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/events"
	"go.klb.dev/clipkeep/internal/model"
)

type allowFunc func(app, format string) bool

func (f allowFunc) Allows(app, format string) bool { return f(app, format) }

var allowAll = allowFunc(func(string, string) bool { return true })

func text(s string) model.Payload {
	return model.Payload{Code: model.CodeUnicodeText, Name: model.FormatUnicodeText, Storage: model.StorageText, Data: []byte(s)}
}

func html(s string) model.Payload {
	return model.Payload{Code: model.CodeHTML, Name: model.FormatHTML, Storage: model.StorageText, Data: []byte(s)}
}

func startWatcher(t *testing.T, mem *clip.Memory, filter Allower, opts Options) *Watcher {
	t.Helper()
	w := NewWatcher(mem, filter, NewChannel(8), opts)
	require.NoError(t, w.StartMonitoring(context.Background()))
	t.Cleanup(w.StopMonitoring)
	return w
}

func nextDraft(t *testing.T, w *Watcher) *Draft {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := w.Channel().Next(ctx)
	require.NoError(t, err)
	return d
}

func TestWatcherPublishesDraft(t *testing.T) {
	mem := clip.NewMemory()
	w := startWatcher(t, mem, allowAll, Options{})
	assert.Equal(t, Monitoring, w.State())

	mem.Offer(clip.Source{App: "notepad.exe", Title: "notes"}, text("Hello"), html("<b>Hello</b>"))

	d := nextDraft(t, w)
	assert.Equal(t, []string{model.FormatUnicodeText, model.FormatHTML}, d.FormatNames())
	assert.Equal(t, "notepad.exe", d.Source.App)
	assert.Equal(t, model.KindText, d.Kind)
	assert.Equal(t, "Hello", d.Title)
	assert.Equal(t, model.HashPayload(text("Hello")), d.Hash)
	assert.Equal(t, int64(len("Hello")+len("<b>Hello</b>")), d.Size())
}

func TestWatcherHonoursFilter(t *testing.T) {
	mem := clip.NewMemory()
	noHTML := allowFunc(func(_, format string) bool { return format != model.FormatHTML })
	w := startWatcher(t, mem, noHTML, Options{})

	mem.Offer(clip.Source{App: "browser"}, text("x"), html("<i>x</i>"))

	d := nextDraft(t, w)
	assert.Equal(t, []string{model.FormatUnicodeText}, d.FormatNames())
}

func TestWatcherOmitsFailedFormat(t *testing.T) {
	mem := clip.NewMemory()
	mem.FailFormat(model.CodeHTML, errors.New("corrupt"))
	w := startWatcher(t, mem, allowAll, Options{})

	mem.Offer(clip.Source{App: "browser"}, text("keep"), html("<p>drop</p>"))

	d := nextDraft(t, w)
	assert.Equal(t, []string{model.FormatUnicodeText}, d.FormatNames())
}

func TestWatcherSkipsWhenNothingApproved(t *testing.T) {
	mem := clip.NewMemory()
	w := startWatcher(t, mem, allowFunc(func(string, string) bool { return false }), Options{})

	mem.Offer(clip.Source{}, text("ignored"))
	w.Notify()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, w.Channel().Len())
	assert.Equal(t, uint64(0), w.Captures())
}

func TestWatcherProceedsWhenBackendNeverReady(t *testing.T) {
	mem := clip.NewMemory()
	mem.SetReady(false)
	w := startWatcher(t, mem, allowAll, Options{ReadyTimeout: 50 * time.Millisecond})

	mem.Offer(clip.Source{}, text("eventually"))

	d := nextDraft(t, w)
	assert.Equal(t, "eventually", d.Title)
}

func TestWatcherPaused(t *testing.T) {
	mem := clip.NewMemory()
	bus := events.New()
	sub := events.NewChanSubscriber(4)
	bus.Subscribe(sub, events.TopicPaused)
	w := startWatcher(t, mem, allowAll, Options{Bus: bus})

	w.SetPaused(true)
	mem.Offer(clip.Source{}, text("secret"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, w.Channel().Len())

	w.SetPaused(false)
	mem.Offer(clip.Source{}, text("public"))
	assert.Equal(t, "public", nextDraft(t, w).Title)
	assert.Len(t, sub.C(), 2)
}

func TestStopMonitoringCompletesChannel(t *testing.T) {
	mem := clip.NewMemory()
	w := NewWatcher(mem, allowAll, NewChannel(4), Options{})
	require.NoError(t, w.StartMonitoring(context.Background()))

	mem.Offer(clip.Source{}, text("queued"))
	require.Eventually(t, func() bool { return w.Channel().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	w.StopMonitoring()
	assert.Equal(t, Stopped, w.State())
	assert.True(t, w.Channel().Completed())

	d, err := w.Channel().Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued", d.Title)
	_, err = w.Channel().Next(context.Background())
	assert.ErrorIs(t, err, ErrDrained)

	assert.ErrorIs(t, w.StartMonitoring(context.Background()), ErrStopped)
}

func TestWatcherDropsOldestUnderLoad(t *testing.T) {
	mem := clip.NewMemory()
	bus := events.New()
	sub := events.NewChanSubscriber(16)
	bus.Subscribe(sub, events.TopicDropped)
	w := NewWatcher(mem, allowAll, NewChannel(2), Options{Bus: bus})

	for _, s := range []string{"one", "two", "three"} {
		mem.Offer(clip.Source{}, text(s))
		w.captureOnce(context.Background())
	}

	assert.Equal(t, 2, w.Channel().Len())
	require.Len(t, sub.C(), 1)
	assert.Equal(t, "one", (<-sub.C()).Title)
}

func TestTitleFor(t *testing.T) {
	cases := []struct {
		name string
		p    model.Payload
		want string
	}{
		{"first line", text("  first line\nsecond"), "first line"},
		{"blank", text("   "), "(blank)"},
		{"image", model.Payload{Name: model.FormatPNG, Storage: model.StoragePNG, Data: make([]byte, 10)}, "Image (10 bytes)"},
		{"files", model.Payload{Name: model.FormatHDrop, Storage: model.StorageBinary, Data: []byte("/tmp/a.txt\n/tmp/b.txt")}, "a.txt (+1 files)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TitleFor(tc.p))
		})
	}
}
