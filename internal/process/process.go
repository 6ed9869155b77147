package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultStopGrace is how long Stop waits between terminate and kill.
const DefaultStopGrace = 2 * time.Second

const defaultTailLines = 40

// Config describes one subprocess.
type Config struct {
	Command string
	Args    []string
	// Env is the complete environment; nil inherits the parent's.
	Env []string
	Dir string
	// StopGrace defaults to DefaultStopGrace.
	StopGrace time.Duration
	// OnStderr receives each stderr line as it arrives.
	OnStderr func(line string)
	// StderrTailLines bounds the retained stderr tail.
	StderrTailLines int
	Logger          *zap.Logger
}

// Process is a running subprocess in its own process group.
type Process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *lineWriter
	grace   time.Duration
	log     *zap.Logger

	done     chan struct{}
	exitCode int
	waitErr  error

	stopOnce sync.Once
}

// Start launches the subprocess.
func Start(cfg Config) (*Process, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("command is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	grace := cfg.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	tail := cfg.StderrTailLines
	if tail <= 0 {
		tail = defaultTailLines
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	// bounds how long Wait keeps copying stderr after the process exits
	cmd.WaitDelay = grace
	setupProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// stdout is a pipe we own, so Wait never closes the read end and unread output survives exit
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	stderr := newLineWriter(tail, cfg.OnStderr)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}
	_ = stdoutW.Close()

	p := &Process{
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdoutR,
		stderr:   stderr,
		grace:    grace,
		log:      logger.With(zap.Int("pid", cmd.Process.Pid)),
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go p.wait()
	p.log.Debug("process started", zap.String("command", cfg.Command))
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	p.exitCode = code
	p.stderr.flush()
	p.log.Debug("process exited", zap.Int("exit_code", code))
	close(p.done)
}

// PID returns the operating system process ID.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Stdin is the subprocess's standard input.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout is the subprocess's standard output. Output written before exit stays readable
// until EOF; reads fail after Stop.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Done is closed once the process has exited and its stderr is drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode is the exit status, -1 while running or when killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// WaitErr reports a wait failure other than a non-zero exit.
func (p *Process) WaitErr() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// StderrTail returns the most recent stderr lines.
func (p *Process) StderrTail() []string { return p.stderr.tail() }

// Stop terminates the process group, escalating to kill after the grace period.
// It is safe to call more than once and returns after the process has exited.
func (p *Process) Stop() {
	p.stopOnce.Do(func() {
		_ = p.stdin.Close()
		_ = p.stdout.Close()
		select {
		case <-p.done:
			return
		default:
		}
		if err := terminateProcessGroup(p.cmd); err != nil {
			p.log.Debug("terminate failed", zap.Error(err))
		}
		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.done:
			return
		case <-timer.C:
		}
		p.log.Warn("process ignored terminate, killing", zap.Duration("grace", p.grace))
		if err := killProcessGroup(p.cmd); err != nil {
			p.log.Debug("kill failed", zap.Error(err))
		}
		<-p.done
	})
}
