// Package coretest provides in-memory transport fakes for tests.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/Dialogue/internal/core"
)

// Conn records every frame it accepts. Fail makes TrySend return the given
// error instead.
type Conn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   error
	done   chan struct{}
	once   sync.Once
}

func NewConn() *Conn { return &Conn{done: make(chan struct{})} }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return core.ErrConnClosed
	default:
	}
	if c.fail != nil {
		return c.fail
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *Conn) Close() { c.once.Do(func() { close(c.done) }) }

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

// Event is a decoded outbound envelope.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *Conn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.frames))
	for _, f := range c.frames {
		var ev Event
		if err := json.Unmarshal(f, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

// Types returns the event types received so far, in order.
func (c *Conn) Types() []string {
	evs := c.Events()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

// Count returns how many events of type t were received.
func (c *Conn) Count(t string) int {
	n := 0
	for _, typ := range c.Types() {
		if typ == t {
			n++
		}
	}
	return n
}
