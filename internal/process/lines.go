package process

import (
	"bytes"
	"strings"
	"sync"
)

// lineWriter splits a byte stream into lines, hands each to a callback and keeps a bounded tail.
type lineWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	lines []string
	max   int
	onLn  func(string)
}

func newLineWriter(max int, onLine func(string)) *lineWriter {
	return &lineWriter{max: max, onLn: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	var complete []string
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf.Next(idx+1)), "\r\n")
		complete = append(complete, line)
		w.keep(line)
	}
	w.mu.Unlock()
	w.emit(complete)
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	var rest []string
	if w.buf.Len() > 0 {
		line := strings.TrimRight(w.buf.String(), "\r\n")
		w.buf.Reset()
		rest = append(rest, line)
		w.keep(line)
	}
	w.mu.Unlock()
	w.emit(rest)
}

func (w *lineWriter) keep(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	w.lines = append(w.lines, line)
	if len(w.lines) > w.max {
		w.lines = w.lines[len(w.lines)-w.max:]
	}
}

func (w *lineWriter) emit(lines []string) {
	if w.onLn == nil {
		return
	}
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			w.onLn(line)
		}
	}
}

func (w *lineWriter) tail() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines...)
}
