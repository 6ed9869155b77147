package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestHelperProcess is not a real test; it is the child process the other tests start.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "echo":
		_, _ = io.Copy(os.Stdout, os.Stdin)
	case "fail":
		fmt.Fprintln(os.Stderr, "line one")
		fmt.Fprint(os.Stderr, "line two")
		os.Exit(3)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("ready")
		time.Sleep(time.Minute)
	case "sleep":
		fmt.Println("ready")
		time.Sleep(time.Minute)
	case "version":
		fmt.Println("helper 1.0.0")
	case "burst":
		for i := 0; i < burstLines; i++ {
			fmt.Printf("line %04d\n", i)
		}
		os.Exit(2)
	}
	os.Exit(0)
}

const burstLines = 500

func helperConfig(mode string) Config {
	return Config{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env:     append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode),
	}
}

func TestEchoRoundTrip(t *testing.T) {
	p, err := Start(helperConfig("echo"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	if _, err := io.WriteString(p.Stdin(), "hello\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(p.Stdout()).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "hello\n" {
		t.Fatalf("unexpected echo %q", line)
	}
	if p.PID() <= 0 {
		t.Fatalf("expected a pid")
	}
}

func TestExitCodeAndStderrTail(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	cfg := helperConfig("fail")
	cfg.OnStderr = func(line string) {
		mu.Lock()
		seen = append(seen, line)
		mu.Unlock()
	}
	p, err := Start(cfg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	if _, err := io.ReadAll(p.Stdout()); err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	<-p.Done()
	if code := p.ExitCode(); code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
	if err := p.WaitErr(); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	tail := p.StderrTail()
	if strings.Join(tail, "|") != "line one|line two" {
		t.Fatalf("unexpected tail %v", tail)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected two stderr callbacks, got %v", seen)
	}
}

func TestOutputSurvivesExitUntilRead(t *testing.T) {
	cfg := helperConfig("burst")
	cfg.StopGrace = 50 * time.Millisecond
	p, err := Start(cfg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("process did not exit")
	}
	// let any post-exit cleanup run before the first read
	time.Sleep(4 * cfg.StopGrace)

	scanner := bufio.NewScanner(p.Stdout())
	count := 0
	for scanner.Scan() {
		if want := fmt.Sprintf("line %04d", count); scanner.Text() != want {
			t.Fatalf("line %d: got %q want %q", count, scanner.Text(), want)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != burstLines {
		t.Fatalf("expected %d lines after exit, got %d", burstLines, count)
	}
	if code := p.ExitCode(); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestStopTerminatesAndIsIdempotent(t *testing.T) {
	p, err := Start(helperConfig("sleep"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	line, err := bufio.NewReader(p.Stdout()).ReadString('\n')
	if err != nil || line != "ready\n" {
		t.Fatalf("expected ready, got %q (%v)", line, err)
	}
	p.Stop()
	select {
	case <-p.Done():
	default:
		t.Fatalf("process still running after Stop")
	}
	p.Stop()
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	if _, err := Start(Config{}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Start(Config{Command: "definitely-not-a-real-binary-clibridge"}); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}

func TestRunCapturesOutput(t *testing.T) {
	cfg := helperConfig("version")
	out, err := Run(context.Background(), cfg.Command, cfg.Args, cfg.Env)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out.Stdout) != "helper 1.0.0" || out.ExitCode != 0 {
		t.Fatalf("unexpected output %+v", out)
	}

	cfg = helperConfig("fail")
	out, err = Run(context.Background(), cfg.Command, cfg.Args, cfg.Env)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", out.ExitCode)
	}
}

func TestRunHonorsTimeout(t *testing.T) {
	cfg := helperConfig("sleep")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := Run(ctx, cfg.Command, cfg.Args, cfg.Env); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestSplitCommand(t *testing.T) {
	got, err := SplitCommand(`npx -y "@qwen-code/qwen-code" --flag='a b'`)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{"npx", "-y", "@qwen-code/qwen-code", "--flag=a b"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected argv %q", got)
	}
	if _, err := SplitCommand(`qwen "unterminated`); err == nil {
		t.Fatalf("expected error for unterminated quote")
	}
}
