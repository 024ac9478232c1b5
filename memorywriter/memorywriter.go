package memorywriter

// Helper package that keeps logs in memory: it remembers a fixed
// number of lines from startup plus a rotating tail, so a long-running
// daemon can export a useful log without unbounded growth.

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// hardcoded cap so one runaway message cannot eat the buffer
const maxLineLength = 500

type MemoryWriter struct {
	mu           sync.Mutex
	maxLineCount int
	lines        [][]byte // lines include newlines
	startCount   int
	startLines   [][]byte
	startTime    time.Time
	printTime    bool
	mirror       io.Writer // optional, gets every line as well
}

func New(size, startSize int, printTime bool, mirror io.Writer) *MemoryWriter {
	return &MemoryWriter{
		maxLineCount: size,
		lines:        make([][]byte, 0, size),
		startCount:   startSize,
		startLines:   make([][]byte, 0, startSize),
		startTime:    time.Now(),
		printTime:    printTime,
		mirror:       mirror,
	}
}

func (m *MemoryWriter) Log(s string) {
	_, err := m.Write([]byte(s + "\n"))
	if err != nil {
		// give up, just print on stdout
		fmt.Println(err)
	}
}

// Write remembers the line in memory, stamping it with elapsed time
// when configured.
func (m *MemoryWriter) Write(p []byte) (int, error) {
	if len(p) > maxLineLength {
		return 0, errors.New("input too long")
	}

	var line []byte
	if !m.printTime {
		line = make([]byte, len(p))
		copy(line, p)
	} else {
		now := time.Now()
		elapsed := now.Sub(m.startTime)
		line = []byte(fmt.Sprintf("[%.6f : %s] %s",
			elapsed.Seconds(), now.Format("15:04:05"), string(p)))
	}

	m.mu.Lock()
	if len(m.startLines) < m.startCount {
		// still in the startup window, do not rotate
		m.startLines = append(m.startLines, line)
	} else {
		for len(m.lines) >= m.maxLineCount {
			m.lines = m.lines[1:]
		}
		m.lines = append(m.lines, line)
	}
	mirror := m.mirror
	m.mu.Unlock()

	if mirror != nil {
		_, err := mirror.Write(line)
		if err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// writeTo exports the remembered lines, latest first, with the given
// header text on top and the startup lines at the bottom.
func (m *MemoryWriter) writeTo(header string, w io.Writer) error {
	_, err := w.Write([]byte(header))
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.lines) - 1; i >= 0; i-- {
		if _, err = w.Write(m.lines[i]); err != nil {
			return err
		}
	}

	// marks the rotation gap between tail and startup lines
	if _, err = w.Write([]byte("...\n")); err != nil {
		return err
	}

	for i := len(m.startLines) - 1; i >= 0; i-- {
		if _, err = w.Write(m.startLines[i]); err != nil {
			return err
		}
	}

	return nil
}

func (m *MemoryWriter) String(header string) (string, error) {
	var b bytes.Buffer
	if err := m.writeTo(header, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Gzip exports the log as gzip bytes, for download endpoints.
func (m *MemoryWriter) Gzip(header string) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}

	gw.Name = "log.txt"
	if err := m.writeTo(header, gw); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
