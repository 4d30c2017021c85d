package execx

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Process is a running external command that can be awaited or terminated.
// Both the segment pre-renderer and the final export encode drive their
// subprocesses through this interface so cancellation semantics stay uniform.
type Process interface {
	Wait() error
	Kill()
}

// MonitorOptions configures a monitored process start.
type MonitorOptions struct {
	Dir        string
	Stderr     io.Writer
	OnProgress func(outTime time.Duration)
}

// StartFunc creates a monitored process. The engine default is Start; tests
// substitute fakes.
type StartFunc func(command string, args []string, opts MonitorOptions) (Process, error)

// Handle wraps a started exec.Cmd with progress monitoring.
type Handle struct {
	cmd    *exec.Cmd
	killed atomic.Bool
	scanMu chan struct{} // closed when the progress scanner drains
	stderr bytes.Buffer
}

// Start launches the command and begins scanning its stdout for ffmpeg
// -progress key=value records. The command is expected to carry
// "-progress pipe:1" when progress reporting is wanted.
func Start(command string, args []string, opts MonitorOptions) (Process, error) {
	cmd := exec.Command(command, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}

	h := &Handle{cmd: cmd, scanMu: make(chan struct{})}

	if opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&h.stderr, opts.Stderr)
	} else {
		cmd.Stderr = &h.stderr
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	go func() {
		defer close(h.scanMu)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if opts.OnProgress == nil {
				continue
			}
			if t, ok := parseProgressLine(scanner.Text()); ok {
				opts.OnProgress(t)
			}
		}
	}()

	return h, nil
}

// Wait blocks until the process exits, returning its error. The stderr tail
// is attached to non-nil errors for diagnostics.
func (h *Handle) Wait() error {
	<-h.scanMu
	err := h.cmd.Wait()
	if err != nil {
		if tail := stderrTail(h.stderr.Bytes()); tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
	}
	return err
}

// Kill forcibly terminates the process. Safe to call more than once and
// after exit.
func (h *Handle) Kill() {
	h.killed.Store(true)
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}

// parseProgressLine extracts the output timeline position from one ffmpeg
// progress record line. ffmpeg emits out_time_us (microseconds) and
// out_time (timecode); either form is accepted.
func parseProgressLine(line string) (time.Duration, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// Both fields carry microseconds; out_time_ms is a historical
		// misnomer in ffmpeg's progress output.
		us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return time.Duration(us) * time.Microsecond, true
	case "out_time":
		return parseTimecode(strings.TrimSpace(value))
	}
	return 0, false
}

// parseTimecode parses HH:MM:SS.micro into a duration.
func parseTimecode(value string) (time.Duration, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	total := float64(hours*3600+minutes*60) + seconds
	if total < 0 {
		return 0, false
	}
	return time.Duration(total * float64(time.Second)), true
}

// stderrTail returns the last few lines of captured stderr.
func stderrTail(data []byte) string {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
