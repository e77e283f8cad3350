//go:build !windows

package ipc

import (
	"net"
	"os"
	"path/filepath"
	"time"
)

func socketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipkeep.sock")
	}
	return filepath.Join(os.TempDir(), "clipkeep.sock")
}

func listenIPC(path string) (net.Listener, error) {
	// Remove a stale socket from a crashed run.
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	_ = os.Chmod(path, 0o600)
	return ln, nil
}

func dialIPC(path string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", path, timeout)
}
