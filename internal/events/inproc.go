package events

import (
	"context"
	"sync"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// InProcBus is a channel-backed bus for single-process deployments and
// tests. It redelivers a failed event a bounded number of times, mirroring
// the queue transport's at-least-once contract.
type InProcBus struct {
	ch   chan MessageEvent
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

const inprocRedeliveries = 3

// NewInProcBus creates a bus with the given buffer size.
func NewInProcBus(buffer int) *InProcBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &InProcBus{
		ch:   make(chan MessageEvent, buffer),
		done: make(chan struct{}),
	}
}

// Publish enqueues the event, blocking when the buffer is full.
func (b *InProcBus) Publish(ctx context.Context, evt MessageEvent) error {
	select {
	case b.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start consumes events in a background goroutine.
func (b *InProcBus) Start(ctx context.Context, h Handler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case evt := <-b.ch:
				b.deliver(ctx, h, evt)
			}
		}
	}()
}

func (b *InProcBus) deliver(ctx context.Context, h Handler, evt MessageEvent) {
	var err error
	for attempt := 0; attempt < inprocRedeliveries; attempt++ {
		if err = h(ctx, evt); err == nil {
			return
		}
	}
	logger.Error("dropping event after redeliveries",
		"kind", string(evt.Kind),
		"message_id", evt.MessageID.String(),
		"error", err.Error())
}

// Stop shuts down the consumer goroutine and waits for it.
func (b *InProcBus) Stop() {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
}
