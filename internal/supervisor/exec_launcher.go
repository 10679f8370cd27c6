package supervisor

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// ExecLauncher spawns real transcoder processes. Stdout and stderr are
// discarded: the worker writes its output into the segment store, and its
// health is inferred from the manifest rather than from process I/O.
type ExecLauncher struct {
	// Binary is the transcoder executable, "ffmpeg" when empty.
	Binary string
	Logger *slog.Logger
}

// Launch starts the process and watches for its exit in a goroutine. A spawn
// failure (missing binary, fork failure) is returned synchronously.
func (l *ExecLauncher) Launch(spec Spec, onExit func(error)) (Handle, error) {
	binary := strings.TrimSpace(l.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	if len(spec.Args) == 0 {
		return nil, fmt.Errorf("worker arguments are required")
	}

	cmd := exec.Command(binary, spec.Args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	handle := &execHandle{cmd: cmd}
	go func() {
		err := cmd.Wait()
		if l.Logger != nil {
			if err != nil {
				l.Logger.Debug("worker process finished", "pid", handle.PID(), "error", err)
			} else {
				l.Logger.Debug("worker process finished", "pid", handle.PID())
			}
		}
		if onExit != nil {
			onExit(err)
		}
	}()
	return handle, nil
}

type execHandle struct {
	cmd      *exec.Cmd
	signalMu sync.Mutex
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Terminate asks the process to exit. It is a signal, not a synchronous kill:
// the process may keep running briefly and must tolerate its output directory
// disappearing underneath it.
func (h *execHandle) Terminate() error {
	h.signalMu.Lock()
	defer h.signalMu.Unlock()
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}
