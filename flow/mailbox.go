package flow

import (
	"context"
	"sync"

	"xmlrpc-bridge/message"
)

// mailbox is an unbounded FIFO drained by a single goroutine, so a node sees
// one event at a time and senders never block.
type mailbox struct {
	mu     sync.Mutex
	queue  []*message.Message
	closed bool
	notify chan struct{} // Capacity 1: a pending wake-up
	done   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// put enqueues msg. It reports false once the mailbox is closed.
func (m *mailbox) put(msg *message.Message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	m.wake()
	return true
}

// close stops accepting messages and drops the ones not yet delivered.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) run(ctx context.Context, node Node) {
	defer close(m.done)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			<-m.notify
			continue
		}
		msg := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		node.Input(ctx, msg)
	}
}
