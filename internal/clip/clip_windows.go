//go:build windows

package clip

// #cgo LDFLAGS: -luser32 -lkernel32
//
// #include <windows.h>
// #include <stdlib.h>
//
// static LRESULT CALLBACK clipkeep_wnd_proc(HWND hwnd, UINT msg, WPARAM wp, LPARAM lp) {
//     if (msg == WM_CLIPBOARDUPDATE) {
//         PostMessage(hwnd, WM_USER + 1, 0, 0);
//         return 0;
//     }
//     return DefWindowProc(hwnd, msg, wp, lp);
// }
//
// static HWND clipkeep_create_listener_window() {
//     WNDCLASS wc = {0};
//     wc.lpfnWndProc   = clipkeep_wnd_proc;
//     wc.hInstance     = GetModuleHandle(NULL);
//     wc.lpszClassName = "ClipkeepListener";
//     RegisterClass(&wc);
//     HWND hwnd = CreateWindowEx(0, "ClipkeepListener", NULL, 0,
//         0, 0, 0, 0, HWND_MESSAGE, NULL, GetModuleHandle(NULL), NULL);
//     AddClipboardFormatListener(hwnd);
//     return hwnd;
// }
//
// static void clipkeep_pump_messages(HWND hwnd, int* changed) {
//     MSG msg;
//     *changed = 0;
//     while (PeekMessage(&msg, hwnd, 0, 0, PM_REMOVE)) {
//         if (msg.message == WM_USER + 1) { *changed = 1; }
//         TranslateMessage(&msg);
//         DispatchMessage(&msg);
//     }
// }
//
// static int clipkeep_foreground(char* title, int tlen, char* exe, int elen) {
//     HWND fg = GetForegroundWindow();
//     title[0] = 0; exe[0] = 0;
//     if (fg == NULL) { return 0; }
//     GetWindowTextA(fg, title, tlen);
//     DWORD pid = 0;
//     GetWindowThreadProcessId(fg, &pid);
//     HANDLE h = OpenProcess(PROCESS_QUERY_LIMITED_INFORMATION, FALSE, pid);
//     if (h != NULL) {
//         DWORD n = (DWORD)elen;
//         QueryFullProcessImageNameA(h, 0, exe, &n);
//         CloseHandle(h);
//     }
//     return 1;
// }
import "C"

import (
	"log/slog"
	"path/filepath"
	"time"
	"unsafe"

	"golang.design/x/clipboard"

	"go.klb.dev/clipkeep/internal/model"
)

type windowsBackend struct {
	hwnd    C.HWND
	watchCh chan struct{}
	done    chan struct{}
}

// New returns the Windows clipboard backend using AddClipboardFormatListener.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard init failed", "err", err)
		return newHeadless()
	}
	b := &windowsBackend{
		hwnd:    C.clipkeep_create_listener_window(),
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go b.pump()
	return b
}

func (b *windowsBackend) Name() string { return "Windows Clipboard" }

// pump drains the listener window's queue. WM_CLIPBOARDUPDATE only ever
// triggers a non-blocking signal; reading happens on the watcher's goroutine.
func (b *windowsBackend) pump() {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			var changed C.int
			C.clipkeep_pump_messages(b.hwnd, &changed)
			if changed != 0 {
				select {
				case b.watchCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (b *windowsBackend) Formats() ([]FormatInfo, error)      { return nativeFormats(), nil }
func (b *windowsBackend) Extract(code uint32) ([]byte, error) { return nativeExtract(code) }
func (b *windowsBackend) SetContent(p []model.Payload) error  { return nativeWrite(p) }

func (b *windowsBackend) Foreground() Source {
	const size = 512
	title := (*C.char)(C.malloc(size))
	exe := (*C.char)(C.malloc(size))
	defer C.free(unsafe.Pointer(title))
	defer C.free(unsafe.Pointer(exe))
	if C.clipkeep_foreground(title, size, exe, size) == 0 {
		return Source{}
	}
	return Source{
		App:   filepath.Base(C.GoString(exe)),
		Title: C.GoString(title),
	}
}

func (b *windowsBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *windowsBackend) Close()                 { close(b.done) }
