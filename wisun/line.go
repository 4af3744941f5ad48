package wisun

import (
	"bytes"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tarm/serial"
)

// LineConfig describes how to open the dongle's serial device.
type LineConfig struct {
	Device string
	Baud   int
}

const inactivityTimeout = 2 * time.Second

// linePort is the minimal surface Line needs from the serial port,
// satisfied by *serial.Port and by test doubles.
type linePort interface {
	io.Reader
	io.Writer
}

// Line is the byte-level serial driver (C1): it owns the physical
// connection, reassembles CR/LF-terminated lines from the raw byte
// stream in a background goroutine (the same read-loop-into-a-channel
// shape used for bufio.Scanner-fed command channels elsewhere in this
// pack), and exposes a bytes_available probe via channel length.
type Line struct {
	port   linePort
	lines  chan string
	errCh  chan error
	closed chan struct{}
}

// OpenLine opens the serial device at cfg.Baud with the 2s inactivity
// read timeout spec.md §4.1 mandates. A failure to open is fatal and
// propagates to the caller without retry.
func OpenLine(cfg LineConfig) (*Line, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: inactivityTimeout,
	})
	if err != nil {
		return nil, err
	}
	return NewLine(port), nil
}

// NewLine wraps an already-open port (or a test double) in a Line.
func NewLine(port linePort) *Line {
	l := &Line{
		port:   port,
		lines:  make(chan string, 64),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *Line) readLoop() {
	defer close(l.lines)

	var buf bytes.Buffer
	chunk := make([]byte, 256)
	for {
		n, err := l.port.Read(chunk)
		if n > 0 {
			for _, c := range chunk[:n] {
				if c == '\r' || c == '\n' {
					if buf.Len() > 0 {
						line := decodeLossy(buf.Bytes())
						buf.Reset()
						select {
						case l.lines <- line:
						case <-l.closed:
							return
						}
					}
					continue
				}
				buf.WriteByte(c)
			}
		}
		if err != nil {
			if err != io.EOF {
				select {
				case l.errCh <- err:
				default:
				}
			}
			return
		}
	}
}

func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

// Write emits raw bytes to the serial line. No framing, no retries.
func (l *Line) Write(p []byte) error {
	_, err := l.port.Write(p)
	return err
}

// Lines returns the channel of assembled, decoded lines. It closes
// when the underlying read loop hits EOF or a hard error; check Err()
// afterward to distinguish the two.
func (l *Line) Lines() <-chan string {
	return l.lines
}

// Err returns the fatal read error, if the read loop stopped because
// of one rather than a clean EOF.
func (l *Line) Err() <-chan error {
	return l.errCh
}

// BytesAvailable is a non-blocking probe: it reports how many
// complete lines are already buffered and ready to read without
// blocking.
func (l *Line) BytesAvailable() int {
	return len(l.lines)
}

// Drain reads and discards whatever lines are currently buffered,
// used after SKJOIN to flush unsolicited notifications (spec §4.4
// step 8) and before a retried request (spec §4.5 step 4).
func (l *Line) Drain() {
	for {
		select {
		case <-l.lines:
		default:
			return
		}
	}
}

// Close stops the read loop. Safe to call once.
func (l *Line) Close() error {
	close(l.closed)
	if c, ok := l.port.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
