package framework

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// BinaryEnv names the variable pointing at a built conduit binary
const BinaryEnv = "CONDUIT_BINARY"

// Process manages a conduit process with log capture and lifecycle control
type Process struct {
	Binary string
	Args   []string
	Env    []string

	cmd  *exec.Cmd
	done chan struct{}
	err  error
	logs *LogBuffer
	mu   sync.Mutex
}

// NewProcess creates a Process running binary with args
func NewProcess(binary string, args ...string) *Process {
	return &Process{
		Binary: binary,
		Args:   args,
		logs:   &LogBuffer{},
	}
}

// Start starts the process
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("process already started with PID %d", p.cmd.Process.Pid)
	}

	cmd := exec.Command(p.Binary, p.Args...)
	cmd.Env = append(os.Environ(), p.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}
	p.cmd = cmd
	p.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go p.captureLogs(&wg, stdout)
	go p.captureLogs(&wg, stderr)
	go func() {
		wg.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return nil
}

// Stop sends SIGTERM and waits up to timeout before killing the process
func (p *Process) Stop(timeout time.Duration) error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()
	if cmd == nil {
		return fmt.Errorf("process not started")
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		select {
		case <-done:
			return nil
		default:
			return fmt.Errorf("failed to send SIGTERM: %w", err)
		}
	}

	select {
	case <-done:
		return p.exitErr()
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		return fmt.Errorf("process did not stop within %s", timeout)
	}
}

// Exited reports whether the process has exited
func (p *Process) Exited() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func (p *Process) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil && !strings.Contains(p.err.Error(), "signal: terminated") {
		return fmt.Errorf("process exited with error: %w", p.err)
	}
	return nil
}

// Logs returns all captured output
func (p *Process) Logs() string {
	return p.logs.String()
}

// WaitForLog waits for a line containing pattern
func (p *Process) WaitForLog(ctx context.Context, pattern string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.logs.Contains(pattern) {
			return nil
		}
		if p.Exited() {
			return fmt.Errorf("process exited before logging %q", pattern)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for log pattern: %s", pattern)
		case <-ticker.C:
		}
	}
}

func (p *Process) captureLogs(wg *sync.WaitGroup, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.logs.Append(scanner.Text())
	}
}

// LogBuffer is a concurrency-safe line buffer
type LogBuffer struct {
	mu    sync.RWMutex
	lines []string
}

// Append adds a log line to the buffer
func (lb *LogBuffer) Append(line string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.lines = append(lb.lines, line)
}

// String returns all logs as a single string
func (lb *LogBuffer) String() string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return strings.Join(lb.lines, "\n")
}

// Contains checks if any line contains pattern
func (lb *LogBuffer) Contains(pattern string) bool {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	for _, line := range lb.lines {
		if strings.Contains(line, pattern) {
			return true
		}
	}
	return false
}
