package clip

import "go.klb.dev/clipkeep/internal/model"

// headlessBackend is a no-op clipboard backend for environments without a
// display server. It never produces Watch events and silently discards writes.
type headlessBackend struct {
	watchCh chan struct{}
}

func newHeadless() Backend { return &headlessBackend{watchCh: make(chan struct{})} }

func (b *headlessBackend) Name() string                         { return "headless (no-op)" }
func (b *headlessBackend) Formats() ([]FormatInfo, error)       { return nil, nil }
func (b *headlessBackend) Extract(uint32) ([]byte, error)       { return nil, nil }
func (b *headlessBackend) SetContent(_ []model.Payload) error   { return nil }
func (b *headlessBackend) Foreground() Source                   { return Source{} }
func (b *headlessBackend) Watch() <-chan struct{}               { return b.watchCh }
func (b *headlessBackend) Close()                               {}
