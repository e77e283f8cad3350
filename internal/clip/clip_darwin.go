//go:build darwin

package clip

// #cgo CFLAGS: -x objective-c
// #cgo LDFLAGS: -framework Cocoa
// #import <Cocoa/Cocoa.h>
//
// NSInteger clipkeep_changeCount() {
//     return [[NSPasteboard generalPasteboard] changeCount];
// }
//
// const char* clipkeep_frontmost() {
//     NSRunningApplication *app = [[NSWorkspace sharedWorkspace] frontmostApplication];
//     if (app == nil || app.localizedName == nil) { return ""; }
//     return [app.localizedName UTF8String];
// }
import "C"

import (
	"log/slog"
	"time"

	"golang.design/x/clipboard"

	"go.klb.dev/clipkeep/internal/model"
)

const darwinPollInterval = 100 * time.Millisecond

type darwinBackend struct {
	lastChange C.NSInteger
	watchCh    chan struct{}
	done       chan struct{}
}

// New returns the macOS clipboard backend.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard init failed", "err", err)
		return newHeadless()
	}
	b := &darwinBackend{
		lastChange: C.clipkeep_changeCount(),
		watchCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go b.poll()
	return b
}

func (b *darwinBackend) Name() string { return "macOS NSPasteboard" }

func (b *darwinBackend) poll() {
	t := time.NewTicker(darwinPollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			cc := C.clipkeep_changeCount()
			if cc != b.lastChange {
				b.lastChange = cc
				select {
				case b.watchCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (b *darwinBackend) Formats() ([]FormatInfo, error)      { return nativeFormats(), nil }
func (b *darwinBackend) Extract(code uint32) ([]byte, error) { return nativeExtract(code) }
func (b *darwinBackend) SetContent(p []model.Payload) error  { return nativeWrite(p) }

func (b *darwinBackend) Foreground() Source {
	return Source{App: C.GoString(C.clipkeep_frontmost())}
}

func (b *darwinBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *darwinBackend) Close()                 { close(b.done) }
