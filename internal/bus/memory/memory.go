// Package memory is an in-process bus.Bus. Every consumer group receives
// every message published after it subscribed; within a group messages are
// split across partitions by key and handled sequentially per partition.
package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/jensholdgaard/sealedbid/internal/bus"
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("bus closed")

// Bus is safe for concurrent use.
type Bus struct {
	partitions int
	logger     *slog.Logger

	mu     sync.RWMutex
	groups map[string]map[string]*group // topic -> group name -> group
	closed bool
}

// New returns a Bus with n partitions per consumer group.
func New(n int, logger *slog.Logger) *Bus {
	if n < 1 {
		n = 1
	}
	return &Bus{
		partitions: n,
		logger:     logger,
		groups:     make(map[string]map[string]*group),
	}
}

// Publish enqueues msgs for every group subscribed to their topics.
func (b *Bus) Publish(ctx context.Context, msgs ...bus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, m := range msgs {
		for _, g := range b.groups[m.Topic] {
			g.partitions[partitionFor(m.Key, len(g.partitions))].push(m)
		}
	}
	return nil
}

// Declare creates group on topic so that messages published from now on
// are retained for it even before anyone subscribes, as with a committed
// consumer group on a broker.
func (b *Bus) Declare(topic, groupName string) error {
	_, err := b.join(topic, groupName)
	return err
}

func (b *Bus) join(topic, groupName string) (*group, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	byName, ok := b.groups[topic]
	if !ok {
		byName = make(map[string]*group)
		b.groups[topic] = byName
	}
	g, ok := byName[groupName]
	if !ok {
		g = newGroup(b.partitions)
		byName[groupName] = g
	}
	return g, nil
}

// Subscribe joins group on topic and handles messages until ctx is done.
// Subscribing twice to the same group shares its partitions.
func (b *Bus) Subscribe(ctx context.Context, topic, groupName string, h bus.Handler) error {
	g, err := b.join(topic, groupName)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i, p := range g.partitions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consume(ctx, h, b.logger.With(
				slog.String("topic", topic),
				slog.String("group", groupName),
				slog.Int("partition", i),
			))
		}()
	}
	wg.Wait()
	return nil
}

// Ping reports whether the bus is open.
func (b *Bus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close rejects further publishes.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func partitionFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

type group struct {
	partitions []*partition
}

func newGroup(n int) *group {
	g := &group{partitions: make([]*partition, n)}
	for i := range g.partitions {
		g.partitions[i] = &partition{notify: make(chan struct{}, 1)}
	}
	return g
}

// partition is an unbounded FIFO with a single active consumer.
type partition struct {
	mu     sync.Mutex
	queue  []bus.Message
	notify chan struct{}
	// consuming serializes members of a group sharing this partition.
	consuming sync.Mutex
}

func (p *partition) push(m bus.Message) {
	p.mu.Lock()
	p.queue = append(p.queue, m)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *partition) pop() (bus.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return bus.Message{}, false
	}
	m := p.queue[0]
	p.queue = p.queue[1:]
	return m, true
}

func (p *partition) consume(ctx context.Context, h bus.Handler, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		}
		p.consuming.Lock()
		for ctx.Err() == nil {
			m, ok := p.pop()
			if !ok {
				break
			}
			if err := h(ctx, m); err != nil {
				logger.ErrorContext(ctx, "handling message", slog.String("key", m.Key), slog.Any("error", err))
			}
		}
		p.consuming.Unlock()
	}
}
