package events

import (
	"sync"
	"time"
)

// flushInterval is how often the background flusher checks batch ages.
const flushInterval = 100 * time.Millisecond

// MessageBatch accumulates messages for one channel. It reports ready when
// it reaches maxSize messages or the oldest message reaches maxAge.
type MessageBatch struct {
	maxSize   int
	maxAge    time.Duration
	messages  []any
	createdAt time.Time
}

func newMessageBatch(maxSize int, maxAge time.Duration) *MessageBatch {
	return &MessageBatch{maxSize: maxSize, maxAge: maxAge}
}

func (b *MessageBatch) add(msg any) {
	if len(b.messages) == 0 {
		b.createdAt = time.Now()
	}
	b.messages = append(b.messages, msg)
}

func (b *MessageBatch) ready() bool {
	if len(b.messages) == 0 {
		return false
	}
	return len(b.messages) >= b.maxSize || time.Since(b.createdAt) >= b.maxAge
}

func (b *MessageBatch) drain() []any {
	msgs := b.messages
	b.messages = nil
	return msgs
}

// Batcher groups messages per channel and emits ready batches as a single
// message_batch envelope. Size-triggered flushes happen inline on Add; a
// background ticker handles age-triggered flushes.
type Batcher struct {
	maxSize int
	maxAge  time.Duration
	emit    func(channel string, envelope BatchEnvelope)

	mu      sync.Mutex
	batches map[string]*MessageBatch

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewBatcher creates a batcher that hands ready batches to emit.
func NewBatcher(maxSize int, maxAge time.Duration, emit func(channel string, envelope BatchEnvelope)) *Batcher {
	return &Batcher{
		maxSize: maxSize,
		maxAge:  maxAge,
		emit:    emit,
		batches: make(map[string]*MessageBatch),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the age flusher.
func (b *Batcher) Start() {
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.flushReady(false)
			case <-b.stop:
				b.flushReady(true)
				return
			}
		}
	}()
}

// Stop flushes everything still pending and stops the flusher.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
}

// Add queues a message for the channel, flushing inline when the batch
// fills up.
func (b *Batcher) Add(channel string, msg any) {
	b.mu.Lock()
	batch, ok := b.batches[channel]
	if !ok {
		batch = newMessageBatch(b.maxSize, b.maxAge)
		b.batches[channel] = batch
	}
	batch.add(msg)

	var envelope *BatchEnvelope
	if len(batch.messages) >= batch.maxSize {
		envelope = b.envelopeLocked(channel, batch)
	}
	b.mu.Unlock()

	if envelope != nil {
		b.emit(channel, *envelope)
	}
}

// flushReady emits every ready batch; with force it emits everything.
func (b *Batcher) flushReady(force bool) {
	b.mu.Lock()
	var flushes []BatchEnvelope
	for channel, batch := range b.batches {
		if len(batch.messages) == 0 {
			continue
		}
		if force || batch.ready() {
			if envelope := b.envelopeLocked(channel, batch); envelope != nil {
				flushes = append(flushes, *envelope)
			}
		}
	}
	b.mu.Unlock()

	for _, envelope := range flushes {
		b.emit(envelope.Channel, envelope)
	}
}

func (b *Batcher) envelopeLocked(channel string, batch *MessageBatch) *BatchEnvelope {
	msgs := batch.drain()
	if len(msgs) == 0 {
		return nil
	}
	return &BatchEnvelope{
		Type:     EventTypeMessageBatch,
		Channel:  channel,
		Count:    len(msgs),
		Messages: msgs,
	}
}
