package clip

import (
	"fmt"
	"slices"
	"sync"

	"go.klb.dev/clipkeep/internal/model"
)

// Memory is an in-process clipboard. It behaves like a real backend: Offer
// replaces the contents and raises a change signal.
type Memory struct {
	mu       sync.Mutex
	formats  []model.Payload
	source   Source
	failing  map[uint32]error
	ready    bool
	watchCh  chan struct{}
	setCalls int
}

// NewMemory returns an empty, ready Memory clipboard.
func NewMemory() *Memory {
	return &Memory{
		failing: make(map[uint32]error),
		ready:   true,
		watchCh: make(chan struct{}, 1),
	}
}

// Offer replaces the clipboard contents as if src had copied payloads.
func (m *Memory) Offer(src Source, payloads ...model.Payload) {
	m.mu.Lock()
	m.formats = slices.Clone(payloads)
	m.source = src
	m.mu.Unlock()
	m.signal()
}

// FailFormat makes Extract fail for code until cleared with a nil error.
func (m *Memory) FailFormat(code uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, code)
		return
	}
	m.failing[code] = err
}

// SetReady toggles the Readier state.
func (m *Memory) SetReady(ready bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()
}

// SetCalls reports how many times SetContent has been called.
func (m *Memory) SetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls
}

func (m *Memory) signal() {
	select {
	case m.watchCh <- struct{}{}:
	default:
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Formats() ([]FormatInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FormatInfo, 0, len(m.formats))
	for _, p := range m.formats {
		out = append(out, FormatInfo{Code: p.Code, Name: p.Name})
	}
	return out, nil
}

func (m *Memory) Extract(code uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failing[code]; ok {
		return nil, fmt.Errorf("extract format %d: %w", code, err)
	}
	for _, p := range m.formats {
		if p.Code == code {
			return slices.Clone(p.Data), nil
		}
	}
	return nil, nil
}

func (m *Memory) SetContent(payloads []model.Payload) error {
	m.mu.Lock()
	m.formats = slices.Clone(payloads)
	m.source = Source{}
	m.setCalls++
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Memory) Foreground() Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

func (m *Memory) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *Memory) Watch() <-chan struct{} { return m.watchCh }
func (m *Memory) Close()                 {}
