package wisun

import (
	"io"
	"sync"
)

// fakePort is a scripted serial line double: test code feeds it lines
// with feed(), and it records every Write() so a test can assert on
// the exact bytes the dispatcher put on the wire (notably, that a
// binary SKSENDTO payload carries no trailing CRLF).
type fakePort struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
	writes []string
}

func newFakePort() *fakePort {
	p := &fakePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.buf) == 0 && p.closed {
		return 0, io.EOF
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, string(b))
	p.mu.Unlock()
	return len(b), nil
}

func (p *fakePort) feed(s string) {
	p.mu.Lock()
	p.buf = append(p.buf, s...)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *fakePort) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *fakePort) writtenCommands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.writes))
	copy(out, p.writes)
	return out
}
