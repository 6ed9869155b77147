//go:build !windows

package process

import (
	"bufio"
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestStopEscalatesToKill(t *testing.T) {
	cfg := helperConfig("stubborn")
	cfg.StopGrace = 200 * time.Millisecond
	p, err := Start(cfg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	line, err := bufio.NewReader(p.Stdout()).ReadString('\n')
	if err != nil || line != "ready\n" {
		t.Fatalf("expected ready, got %q (%v)", line, err)
	}
	pid := p.PID()

	start := time.Now()
	p.Stop()
	if elapsed := time.Since(start); elapsed < cfg.StopGrace {
		t.Fatalf("expected stop to wait out the grace period, took %s", elapsed)
	}
	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Fatalf("expected pid %d to be gone, got %v", pid, err)
	}
}
