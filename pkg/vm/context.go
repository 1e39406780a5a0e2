package vm

import (
	"fmt"

	"github.com/scrawlvm/scrawl/pkg/register"
)

// ctxState tracks one sub-context inside the cooperative scheduler.
type ctxState int

const (
	ctxRunnable ctxState = iota
	ctxSleeping
	ctxWaiting
	ctxDead
)

// subContext is one cooperatively scheduled execution context: its own
// register window and program counter over the shared program. Contexts are
// addressed by arena index, never by reference; the root context is index 0.
type subContext struct {
	id        int
	state     ctxState
	regs      *register.File
	pc        int
	callStack []int
	waitOn    int // valid while state == ctxWaiting
}

// contextArena owns every context of a session. Slot 0 is the root; dead
// slots are reused by the next fork/spawn.
type contextArena struct {
	slots []*subContext
}

func newContextArena(root *register.File) *contextArena {
	return &contextArena{
		slots: []*subContext{{id: 0, regs: root}},
	}
}

// root returns the root context.
func (a *contextArena) root() *subContext {
	return a.slots[0]
}

// get returns the context at index id, or nil if the slot is absent or
// dead. Callers treat nil as "already gone" for idempotent join/kill.
func (a *contextArena) get(id int) *subContext {
	if id < 0 || id >= len(a.slots) {
		return nil
	}
	c := a.slots[id]
	if c == nil || c.state == ctxDead {
		return nil
	}
	return c
}

// add places a new context in the lowest free slot and returns it.
func (a *contextArena) add(regs *register.File, pc int) *subContext {
	for i := 1; i < len(a.slots); i++ {
		if a.slots[i] == nil || a.slots[i].state == ctxDead {
			c := &subContext{id: i, regs: regs, pc: pc}
			a.slots[i] = c
			return c
		}
	}
	c := &subContext{id: len(a.slots), regs: regs, pc: pc}
	a.slots = append(a.slots, c)
	return c
}

// kill marks a context dead and releases any contexts waiting on it.
// Killing an absent or already-dead context is a no-op.
func (a *contextArena) kill(id int) {
	c := a.get(id)
	if c == nil {
		return
	}
	c.state = ctxDead
	for _, w := range a.slots {
		if w != nil && w.state == ctxWaiting && w.waitOn == id {
			w.state = ctxRunnable
		}
	}
}

// next returns the next runnable context at or after the slot following
// cur, wrapping around. Returns nil when nothing is runnable.
func (a *contextArena) next(cur int) *subContext {
	n := len(a.slots)
	for i := 1; i <= n; i++ {
		c := a.slots[(cur+i)%n]
		if c != nil && c.state == ctxRunnable {
			return c
		}
	}
	return nil
}

// liveCount returns the number of contexts that are not dead.
func (a *contextArena) liveCount() int {
	n := 0
	for _, c := range a.slots {
		if c != nil && c.state != ctxDead {
			n++
		}
	}
	return n
}

func (c *subContext) String() string {
	return fmt.Sprintf("ctx%d(pc=%d)", c.id, c.pc)
}
