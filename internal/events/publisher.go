package events

import (
	"context"
	"sync"
)

type Publisher interface {
	Publish(ctx context.Context, e Envelope) error
}

// MemoryPublisher records envelopes in publish order. It backs tests and
// the "memory" bus driver for environments without a broker.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Envelope
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, e Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *MemoryPublisher) Events() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Envelope, len(p.events))
	copy(out, p.events)
	return out
}

// ByReference returns, in publish order, every event sharing the partition
// key.
func (p *MemoryPublisher) ByReference(reference string) []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Envelope
	for _, e := range p.events {
		if e.Reference == reference {
			out = append(out, e)
		}
	}
	return out
}
