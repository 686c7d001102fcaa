package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// xSocket is where an X server listening on display ":N" puts its socket.
func xSocket(display string) (string, error) {
	n, ok := strings.CutPrefix(display, ":")
	if !ok || n == "" || strings.ContainsAny(n, "/.") {
		return "", fmt.Errorf("browser: bad display %q", display)
	}
	return "/tmp/.X11-unix/X" + n, nil
}

// startDisplay runs Xvfb for headful mode and waits until it accepts
// clients. Caller holds mu.
func (m *Manager) startDisplay() error {
	if m.xvfb != nil {
		return nil
	}
	sock, err := xSocket(m.cfg.XvfbDisplay)
	if err != nil {
		return err
	}
	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", "1280x900x24", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: xvfb: %w", err)
	}
	if err := waitFor(sock, 5*time.Second); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("browser: xvfb %s: %w", m.cfg.XvfbDisplay, err)
	}
	m.xvfb = cmd
	m.cfg.Logger.Info("browser: display up", "display", m.cfg.XvfbDisplay, "pid", cmd.Process.Pid)
	return nil
}

var errNotReady = errors.New("socket did not appear")

func waitFor(path string, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errNotReady
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// stopDisplay kills Xvfb. Caller holds mu.
func (m *Manager) stopDisplay() {
	if m.xvfb == nil {
		return
	}
	_ = m.xvfb.Process.Kill()
	_ = m.xvfb.Wait()
	m.xvfb = nil
	m.cfg.Logger.Info("browser: display down", "display", m.cfg.XvfbDisplay)
}
