// Package ipc provides the local socket the clipkeep daemon listens on and
// CLI tools (status, tail, pause, resume) dial.
package ipc

import (
	"errors"
	"net"
	"os"
	"time"
)

// ErrNotRunning is returned by Dial when no daemon is listening.
var ErrNotRunning = errors.New("ipc: clipkeep daemon is not running")

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux / macOS: $XDG_RUNTIME_DIR/clipkeep.sock or $TMPDIR/clipkeep.sock
//   - Windows:       \\.\pipe\clipkeep
//
// $CLIPKEEP_SOCKET overrides both.
func SocketPath() string {
	if s := os.Getenv("CLIPKEEP_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// Listen creates the IPC listener.
func Listen() (net.Listener, error) {
	return listenIPC(SocketPath())
}

// Dial connects to a running daemon.
func Dial(timeout time.Duration) (net.Conn, error) {
	c, err := dialIPC(SocketPath(), timeout)
	if err != nil {
		return nil, errors.Join(ErrNotRunning, err)
	}
	return c, nil
}

// IsRunning reports whether a daemon appears to be listening. It does a
// cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := dialIPC(SocketPath(), time.Second)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}
