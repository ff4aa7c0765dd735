package mq

import (
	"context"
	"errors"
	"sync"
)

const memoryBuffer = 64

var errClosed = errors.New("mq backend closed")

// Memory delivers messages to in-process subscribers of the same channel.
// Messages for a channel without subscribers, or for a subscriber whose
// buffer is full, are dropped.
type Memory struct {
	mu     sync.Mutex
	subs   map[string][]chan Message
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]chan Message)}
}

func (m *Memory) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", errClosed
	}

	msg := Message{ID: newMessageID(), Data: append([]byte(nil), data...), Attributes: attrs}
	for _, ch := range m.subs[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	return msg.ID, nil
}

// Subscribe blocks until ctx is done or the backend is closed. A handler
// error redelivers the message once more before it is dropped.
func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) error {
	ch := make(chan Message, memoryBuffer)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed
	}
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()
	defer m.unsubscribe(channel, ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errClosed
			}
			if err := handler(ctx, msg); err != nil {
				_ = handler(ctx, msg)
			}
		}
	}
}

func (m *Memory) unsubscribe(channel string, ch chan Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[channel]
	for i, c := range subs {
		if c == ch {
			m.subs[channel] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for channel, subs := range m.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(m.subs, channel)
	}
	return nil
}

// Subscribers reports how many subscribers listen on channel.
func (m *Memory) Subscribers(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[channel])
}
