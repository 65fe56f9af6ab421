package keeper

import (
	"bytes"
	"sync"

	"botcloud/internal/models"
)

type pumpItem struct {
	sev models.Severity
	msg string
}

// pump serializes every line of one process into the publisher in the
// order it was produced. Producers never block on the publisher.
type pump struct {
	identity string
	pub      Publisher

	mu     sync.Mutex
	queue  []pumpItem
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPump(identity string, pub Publisher) *pump {
	p := &pump{
		identity: identity,
		pub:      pub,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *pump) push(sev models.Severity, msg string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, pumpItem{sev: sev, msg: msg})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// close drains whatever is queued and waits for the pump to finish.
func (p *pump) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	<-p.done
}

func (p *pump) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		items := p.queue
		p.queue = nil
		closed := p.closed
		p.mu.Unlock()

		for _, it := range items {
			p.pub.Publish(p.identity, it.sev, it.msg)
		}
		if len(items) > 0 {
			continue
		}
		if closed {
			return
		}
		<-p.wake
	}
}

// lineWriter splits a byte stream into lines for a pump.
type lineWriter struct {
	sev models.Severity
	out *pump

	mu  sync.Mutex
	buf []byte
}

func newLineWriter(out *pump, sev models.Severity) *lineWriter {
	return &lineWriter{sev: sev, out: out}
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(b), nil
}

// flush emits a trailing partial line.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	w.out.push(w.sev, string(line))
}
