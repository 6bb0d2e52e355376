package scand

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	// healthFailureLimit is how many consecutive failed health checks it
	// takes before the scanner is declared hung and killed.
	healthFailureLimit = 3

	// healthCheckTimeout bounds a single health check call.
	healthCheckTimeout = 5 * time.Second

	// stopPollInterval is how often terminate() checks whether the
	// process has exited after SIGTERM.
	stopPollInterval = 100 * time.Millisecond
)

// supervisorConfig carries what the supervision loop needs. Built by
// Manager.Start from the scanner Config.
type supervisorConfig struct {
	binary           string
	args             []string
	restartOnFailure bool
	restartDelay     time.Duration
	maxRestarts      int
	gracefulTimeout  time.Duration
	healthInterval   time.Duration
	healthCheck      func(ctx context.Context) error
	onRestart        func(attempt int)
	logger           Logger
}

// supervisor keeps one blinky-scand instance alive: launch, watch for
// exit or silence, restart with a capped attempt budget, and tear the
// whole process group down on stop.
type supervisor struct {
	cfg supervisorConfig

	mu       sync.Mutex
	cmd      *exec.Cmd
	running  bool
	stopping bool
	restarts int

	stopOnce sync.Once
	done     chan struct{}
}

func newSupervisor(cfg supervisorConfig) *supervisor {
	if cfg.logger == nil {
		cfg.logger = noopLogger{}
	}
	return &supervisor{cfg: cfg, done: make(chan struct{})}
}

// start launches the scanner. The first launch is synchronous so
// configuration mistakes (missing binary, bad permissions) surface as an
// error; restarts happen on the supervision goroutine.
func (s *supervisor) start(ctx context.Context) error {
	exitCh, err := s.launch()
	if err != nil {
		close(s.done)
		return err
	}
	go s.supervise(ctx, exitCh)
	return nil
}

// launch starts one instance in its own process group so stop() can
// signal the scanner and any children it spawned in one go.
func (s *supervisor) launch() (<-chan error, error) {
	cmd := exec.Command(s.cfg.binary, s.cfg.args...) //nolint:gosec // binary path validated by Config.Validate
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.cfg.binary, err)
	}

	go s.relayOutput("stdout", stdout)
	go s.relayOutput("stderr", stderr)

	s.mu.Lock()
	s.cmd = cmd
	s.running = true
	s.mu.Unlock()

	s.cfg.logger.Info("scanner process started", "pid", cmd.Process.Pid)

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()
	return exitCh, nil
}

// relayOutput forwards scanner output line by line into the gateway log.
func (s *supervisor) relayOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.cfg.logger.Debug("scanner output", "stream", stream, "line", sc.Text())
	}
}

// supervise restarts the scanner after failures until the attempt budget
// is spent, the context is cancelled, or stop() is called.
func (s *supervisor) supervise(ctx context.Context, exitCh <-chan error) {
	defer close(s.done)

	for {
		exitErr := s.waitForFailure(ctx, exitCh)

		s.mu.Lock()
		s.running = false
		stopping := s.stopping
		s.mu.Unlock()

		if stopping || ctx.Err() != nil {
			return
		}

		if exitErr != nil {
			s.cfg.logger.Warn("scanner process failed", "error", exitErr)
		} else {
			s.cfg.logger.Warn("scanner process exited")
		}

		if !s.cfg.restartOnFailure {
			return
		}

		s.mu.Lock()
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		if attempt > s.cfg.maxRestarts {
			s.cfg.logger.Error("scanner restart budget exhausted", "attempts", s.cfg.maxRestarts)
			return
		}
		if s.cfg.onRestart != nil {
			s.cfg.onRestart(attempt)
		}

		select {
		case <-time.After(s.cfg.restartDelay):
		case <-ctx.Done():
			return
		}

		s.mu.Lock()
		stopping = s.stopping
		s.mu.Unlock()
		if stopping {
			return
		}

		next, err := s.launch()
		if err != nil {
			// Treat a failed relaunch like an instant exit so the
			// attempt budget still applies.
			s.cfg.logger.Error("scanner relaunch failed", "error", err)
			ch := make(chan error, 1)
			ch <- err
			next = ch
		}
		exitCh = next
	}
}

// waitForFailure returns when the process exits, the context is
// cancelled, or the scanner fails healthFailureLimit checks in a row.
// A hung scanner is killed here; the collected exit error is returned.
func (s *supervisor) waitForFailure(ctx context.Context, exitCh <-chan error) error {
	var tick <-chan time.Time
	if s.cfg.healthCheck != nil && s.cfg.healthInterval > 0 {
		ticker := time.NewTicker(s.cfg.healthInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err
		case <-ctx.Done():
			s.terminate()
			<-exitCh
			return ctx.Err()
		case <-tick:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := s.cfg.healthCheck(checkCtx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			s.cfg.logger.Warn("scanner health check failed",
				"consecutive_failures", failures,
				"error", err,
			)
			if failures >= healthFailureLimit {
				s.cfg.logger.Error("scanner unresponsive, killing process group")
				s.kill()
				return <-exitCh
			}
		}
	}
}

// stop shuts the scanner down: SIGTERM to the group, SIGKILL after the
// graceful window. Blocks until supervision has wound down. Safe to call
// more than once.
func (s *supervisor) stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()
		s.terminate()
	})
	<-s.done
	return nil
}

// terminate asks the process group to exit, escalating to SIGKILL when
// the graceful timeout passes.
func (s *supervisor) terminate() {
	s.mu.Lock()
	cmd := s.cmd
	running := s.running
	s.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
		return
	}

	deadline := time.After(s.cfg.gracefulTimeout)
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			s.cfg.logger.Warn("scanner ignored SIGTERM, sending SIGKILL", "pid", pid)
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			return
		case <-ticker.C:
			// Signal 0 errors once the process has been reaped.
			if syscall.Kill(pid, 0) != nil {
				return
			}
		}
	}
}

// kill forcibly ends the process group, no grace.
func (s *supervisor) kill() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func (s *supervisor) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *supervisor) pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *supervisor) restartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}
