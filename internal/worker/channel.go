package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// readBufSize is the initial size of the stdout read buffer. Reply lines
	// carrying base64 WAV payloads run to several megabytes, so the reader
	// must grow past bufio's default; ReadBytes handles that, this just
	// avoids churn on the common case.
	readBufSize = 64 * 1024

	// stopGrace is how long Stop waits for the child to exit after stdin is
	// closed before killing it.
	stopGrace = 5 * time.Second

	// stderrTailLines is how many recent stderr lines a channel retains for
	// post-mortem diagnostics.
	stderrTailLines = 50
)

// Command describes how to launch a worker process.
type Command struct {
	Path string
	Args []string
	// Env entries are appended to the parent environment.
	Env []string
	Dir string
}

// Channel is a single live worker process. It owns the child's stdin and
// stdout and enforces the one-in-one-out request discipline: Call serialises
// writers, and every request line is answered by exactly one reply line.
//
// A Channel never restarts itself. When it reports ErrCrashed or ErrProtocol
// the owning [Supervisor] discards it and spawns a replacement.
type Channel struct {
	name string
	cmd  *exec.Cmd
	log  *slog.Logger

	stdin io.WriteCloser
	lines chan []byte

	// exited is closed by the wait goroutine once the process is gone.
	exited  chan struct{}
	exitErr error

	mu sync.Mutex // serialises Call

	// stale counts replies abandoned by timed-out or cancelled calls. The
	// next call drains that many lines before writing its own request.
	stale int

	inflight    atomic.Int32
	lastLatency atomic.Int64 // milliseconds

	tailMu sync.Mutex
	tail   []string
}

// StartChannel spawns the worker process and issues the ready probe. The
// probe request is sent immediately after spawn and its reply is awaited for
// up to readyTimeout, covering model load time. On any failure the process
// is killed and an error returned.
func StartChannel(ctx context.Context, name string, command Command, readyProbe any, readyTimeout time.Duration, log *slog.Logger) (*Channel, error) {
	if command.Path == "" {
		return nil, fmt.Errorf("worker %s: empty command", name)
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = append(cmd.Environ(), command.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %s: stdin pipe: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %s: stdout pipe: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %s: stderr pipe: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("worker %s: start: %w", name, err)
	}

	ch := &Channel{
		name:   name,
		cmd:    cmd,
		log:    log.With("worker", name, "pid", cmd.Process.Pid),
		stdin:  stdin,
		lines:  make(chan []byte, 4),
		exited: make(chan struct{}),
	}

	go ch.readLoop(stdout)
	go ch.scrapeStderr(stderr)
	go func() {
		err := cmd.Wait()
		ch.exitErr = err
		close(ch.exited)
		ch.log.Debug("worker process exited", "err", err)
	}()

	if readyProbe != nil {
		if _, err := ch.Call(ctx, readyProbe, readyTimeout); err != nil {
			ch.Stop(false)
			return nil, fmt.Errorf("worker %s: ready probe: %w", name, err)
		}
	}
	ch.log.Info("worker ready")
	return ch, nil
}

// readLoop moves stdout lines into the lines channel. ReadBytes grows its
// buffer as needed, so multi-megabyte reply lines survive intact.
func (c *Channel) readLoop(stdout io.Reader) {
	r := bufio.NewReaderSize(stdout, readBufSize)
	for {
		line, err := r.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 {
			c.lines <- line
		}
		if err != nil {
			close(c.lines)
			return
		}
	}
}

// scrapeStderr forwards the worker's stderr to the log at debug level and
// keeps a short tail for diagnostics.
func (c *Channel) scrapeStderr(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 4096), 256*1024)
	for sc.Scan() {
		line := sc.Text()
		c.log.Debug("worker stderr", "line", line)

		c.tailMu.Lock()
		c.tail = append(c.tail, line)
		if len(c.tail) > stderrTailLines {
			c.tail = c.tail[len(c.tail)-stderrTailLines:]
		}
		c.tailMu.Unlock()
	}
}

// StderrTail returns the most recent stderr lines, oldest first.
func (c *Channel) StderrTail() []string {
	c.tailMu.Lock()
	defer c.tailMu.Unlock()
	out := make([]string, len(c.tail))
	copy(out, c.tail)
	return out
}

// Call sends one JSON request line and waits for one JSON reply line.
//
// Errors are classified for the supervisor: ErrTimeout leaves the process
// running but marks the pending reply stale; ErrCrashed and ErrProtocol mean
// the channel must be replaced. Context cancellation also marks the reply
// stale so a later call does not mispair.
func (c *Channel) Call(ctx context.Context, req any, timeout time.Duration) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("worker %s: encode request: %w", c.name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	if err := c.drainStale(); err != nil {
		return nil, err
	}

	// One orphan line with no call pending is a protocol violation.
	select {
	case line, ok := <-c.lines:
		if !ok {
			return nil, fmt.Errorf("worker %s: %w: %s", c.name, ErrCrashed, c.exitReason())
		}
		c.log.Warn("unsolicited line on worker stdout", "bytes", len(line))
		return nil, fmt.Errorf("worker %s: %w: unsolicited reply", c.name, ErrProtocol)
	default:
	}

	payload = append(payload, '\n')
	start := time.Now()
	if _, err := c.stdin.Write(payload); err != nil {
		return nil, fmt.Errorf("worker %s: %w: write: %s", c.name, ErrCrashed, c.exitReason())
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-c.lines:
		if !ok {
			return nil, fmt.Errorf("worker %s: %w: %s", c.name, ErrCrashed, c.exitReason())
		}
		c.lastLatency.Store(time.Since(start).Milliseconds())
		if !json.Valid(line) {
			return nil, fmt.Errorf("worker %s: %w: reply is not JSON", c.name, ErrProtocol)
		}
		return json.RawMessage(line), nil
	case <-timer.C:
		c.stale++
		return nil, fmt.Errorf("worker %s: %w after %s", c.name, ErrTimeout, timeout)
	case <-ctx.Done():
		c.stale++
		return nil, ctx.Err()
	}
}

// drainStale discards replies abandoned by earlier timed-out calls. It does
// not wait: a stale reply that has not arrived yet stays owed, and the
// request/reply pairing is preserved because the owed count is decremented
// only when a line is actually consumed.
func (c *Channel) drainStale() error {
	for c.stale > 0 {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return fmt.Errorf("worker %s: %w: %s", c.name, ErrCrashed, c.exitReason())
			}
			c.stale--
			c.log.Debug("discarded late worker reply", "bytes", len(line))
		default:
			// Still owed, but we cannot block a fresh call on it. The
			// supervisor restarts after repeated timeouts, which clears
			// the debt with the process.
			return fmt.Errorf("worker %s: %w: reply still pending", c.name, ErrTimeout)
		}
	}
	return nil
}

// Stop shuts the worker down. With graceful set, stdin is closed first and
// the process given stopGrace to exit on its own; otherwise it is killed
// immediately.
func (c *Channel) Stop(graceful bool) {
	if graceful {
		_ = c.stdin.Close()
		select {
		case <-c.exited:
			return
		case <-time.After(stopGrace):
			c.log.Warn("worker did not exit after stdin close, killing")
		}
	}
	_ = c.cmd.Process.Kill()
	<-c.exited
}

// Alive reports whether the process is still running.
func (c *Channel) Alive() bool {
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// Exited is closed when the child process has terminated.
func (c *Channel) Exited() <-chan struct{} { return c.exited }

// LastLatency is the wall time of the most recent successful call.
func (c *Channel) LastLatency() time.Duration {
	return time.Duration(c.lastLatency.Load()) * time.Millisecond
}

// Inflight reports whether a call is currently being served.
func (c *Channel) Inflight() int { return int(c.inflight.Load()) }

func (c *Channel) exitReason() string {
	select {
	case <-c.exited:
		if c.exitErr != nil {
			return c.exitErr.Error()
		}
		return "exit status 0"
	default:
		return "pipe closed"
	}
}
