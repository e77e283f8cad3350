// Package clip is the clipboard-access capability the capture pipeline
// depends on. Build constraints select the platform backend:
//
//	clip_darwin.go   macOS via golang.design/x/clipboard + NSPasteboard changeCount
//	clip_windows.go  Windows via golang.design/x/clipboard + AddClipboardFormatListener
//	clip_linux.go    Linux via golang.design/x/clipboard, polling only
//	clip_other.go    everything else: headless
//
// Memory is a portable in-process backend used by tests and by --headless.
package clip

import (
	"errors"

	"go.klb.dev/clipkeep/internal/model"
)

// ErrUnsupported is returned by Extract or SetContent for a format the
// backend cannot represent.
var ErrUnsupported = errors.New("clip: unsupported format")

// FormatInfo identifies one representation currently offered by the
// clipboard owner.
type FormatInfo struct {
	Code uint32 `json:"code"`
	Name string `json:"name"`
}

// Source describes the application that owned the clipboard when it changed.
type Source struct {
	App   string `json:"app,omitempty"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Backend is the interface every clipboard implementation satisfies.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Formats enumerates the formats currently on the clipboard.
	Formats() ([]FormatInfo, error)

	// Extract returns the payload of one format. A nil slice with a nil
	// error means the format vanished between enumeration and extraction.
	Extract(code uint32) ([]byte, error)

	// SetContent replaces the clipboard contents with the given formats.
	SetContent(payloads []model.Payload) error

	// Foreground reports the application that currently owns the clipboard.
	Foreground() Source

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. Signals coalesce; the channel is never closed.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}

// Readier is implemented by backends whose formats depend on an
// asynchronously initialised surface.
type Readier interface {
	Ready() bool
}

// nativeFormats are the two representations golang.design/x/clipboard exposes.
var (
	textFormat  = FormatInfo{Code: model.CodeUnicodeText, Name: model.FormatUnicodeText}
	imageFormat = FormatInfo{Code: model.CodePNG, Name: model.FormatPNG}
)
