package wisun

import (
	"io"
	"strings"
	"time"
)

// Dispatcher is the command dispatcher (C2): it writes a command line
// and collects whatever the dongle sends back until a sentinel
// substring shows up, the timeout elapses, or the line reaches EOF.
// It never retries; that is a supervisor (C6) concern.
type Dispatcher struct {
	line *Line
}

// NewDispatcher builds a Dispatcher over an already-open Line.
func NewDispatcher(line *Line) *Dispatcher {
	return &Dispatcher{line: line}
}

// Send writes cmd terminated by CRLF and collects response lines
// until one contains waitFor, timeout elapses, or the line closes.
// The returned slice always includes every line seen, including the
// sentinel line itself.
func (d *Dispatcher) Send(cmd, waitFor string, timeout time.Duration) ([]string, error) {
	if err := d.line.Write([]byte(cmd + "\r\n")); err != nil {
		return nil, err
	}
	return d.collect(waitFor, timeout)
}

// SendBinary writes an ASCII command header (e.g. "SKSENDTO 1 FE80...
// 0E1A 1 0 001D ") immediately followed by a raw payload with no
// trailing CRLF — the one command family (SKSENDTO) the dongle
// expects framed this way — then collects responses the same way
// Send does.
func (d *Dispatcher) SendBinary(header string, payload []byte, waitFor string, timeout time.Duration) ([]string, error) {
	if err := d.line.Write([]byte(header)); err != nil {
		return nil, err
	}
	if err := d.line.Write(payload); err != nil {
		return nil, err
	}
	return d.collect(waitFor, timeout)
}

func (d *Dispatcher) collect(waitFor string, timeout time.Duration) ([]string, error) {
	deadline := time.Now().Add(timeout)
	var lines []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lines, nil
		}
		select {
		case line, ok := <-d.line.Lines():
			if !ok {
				select {
				case err := <-d.line.Err():
					return lines, err
				default:
					return lines, io.EOF
				}
			}
			lines = append(lines, line)
			if waitFor != "" && strings.Contains(line, waitFor) {
				return lines, nil
			}
		case <-time.After(remaining):
			return lines, nil
		}
	}
}

// Lines exposes the underlying Line's channel, for callers (the UDP
// exchange layer, the session supervisor) that need to watch for
// unsolicited EVENT/ERXUDP lines outside of a Send/SendBinary call.
func (d *Dispatcher) Lines() <-chan string {
	return d.line.Lines()
}

// Drain discards whatever is currently buffered.
func (d *Dispatcher) Drain() {
	d.line.Drain()
}
