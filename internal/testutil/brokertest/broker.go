// Package brokertest is an in-process stand-in for an AMQP broker. It honors
// per-consumer prefetch, manual ack/nack with requeue, requeue of unacked
// deliveries on channel close, and injectable dial failures.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/missionctl/internal/channel"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrDialRefused = errors.New("brokertest: dial refused")
	ErrUnknownTag  = errors.New("brokertest: unknown delivery tag")
)

type Broker struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queues    map[string]*queue
	failDials int
	down      bool
	dials     int
	conns     map[*Conn]struct{}
}

type queue struct {
	ready     [][]byte
	published int
	acked     int
	discarded [][]byte
}

func New() *Broker {
	b := &Broker{
		queues: make(map[string]*queue),
		conns:  make(map[*Conn]struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Dial satisfies channel.DialFunc.
func (b *Broker) Dial(ctx context.Context) (channel.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.failDials > 0 {
		b.failDials--
		return nil, ErrDialRefused
	}
	if b.down {
		return nil, ErrDialRefused
	}
	c := &Conn{broker: b}
	b.conns[c] = struct{}{}
	return c, nil
}

// FailDials makes the next n dial attempts fail.
func (b *Broker) FailDials(n int) {
	b.mu.Lock()
	b.failDials = n
	b.mu.Unlock()
}

// SetDown refuses every dial until cleared.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *Broker) OpenConnections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// DropConnections closes every open connection as a broker restart would,
// ending all delivery streams.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		c.closeLocked()
	}
}

// Inject enqueues body on name without going through a connection.
func (b *Broker) Inject(name string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueueLocked(name, body)
}

func (b *Broker) Ready(name string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneBodies(b.queueLocked(name).ready)
}

func (b *Broker) Discarded(name string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneBodies(b.queueLocked(name).discarded)
}

func (b *Broker) Published(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueLocked(name).published
}

func (b *Broker) Acked(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueLocked(name).acked
}

func (b *Broker) queueLocked(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) enqueueLocked(name string, body []byte) {
	q := b.queueLocked(name)
	q.ready = append(q.ready, append([]byte(nil), body...))
	q.published++
	b.cond.Broadcast()
}

// Conn is one client connection.
type Conn struct {
	broker   *Broker
	closed   bool
	channels []*Chan
}

func (c *Conn) Channel() (channel.AMQPChannel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &Chan{broker: c.broker}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *Conn) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closeLocked()
	return nil
}

func (c *Conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.closeLocked()
	}
	delete(c.broker.conns, c)
}

// Chan is one AMQP channel on a connection.
type Chan struct {
	broker    *Broker
	prefetch  int
	closed    bool
	consumers []*consumer
}

func (ch *Chan) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q := ch.broker.queueLocked(name)
	return amqp.Queue{Name: name, Messages: len(q.ready)}, nil
}

func (ch *Chan) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	return nil
}

func (ch *Chan) Consume(name, consumerTag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if autoAck {
		return nil, fmt.Errorf("brokertest: autoAck consumers are not supported")
	}
	k := &consumer{
		broker:   ch.broker,
		queue:    ch.broker.queueLocked(name),
		prefetch: ch.prefetch,
		inflight: make(map[uint64][]byte),
		out:      make(chan amqp.Delivery),
		done:     make(chan struct{}),
	}
	ch.consumers = append(ch.consumers, k)
	go k.pump(name)
	return k.out, nil
}

func (ch *Chan) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.broker.enqueueLocked(key, msg.Body)
	return nil
}

func (ch *Chan) Close() error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closeLocked()
	return nil
}

func (ch *Chan) closeLocked() {
	if ch.closed {
		return
	}
	ch.closed = true
	for _, k := range ch.consumers {
		k.stopLocked()
	}
}

type consumer struct {
	broker   *Broker
	queue    *queue
	prefetch int
	tag      uint64
	inflight map[uint64][]byte
	stopped  bool
	out      chan amqp.Delivery
	done     chan struct{}
}

func (k *consumer) pump(name string) {
	defer close(k.out)
	b := k.broker
	for {
		b.mu.Lock()
		for !k.stopped && (len(k.queue.ready) == 0 || (k.prefetch > 0 && len(k.inflight) >= k.prefetch)) {
			b.cond.Wait()
		}
		if k.stopped {
			b.mu.Unlock()
			return
		}
		body := k.queue.ready[0]
		k.queue.ready = k.queue.ready[1:]
		k.tag++
		tag := k.tag
		k.inflight[tag] = body
		b.mu.Unlock()

		d := amqp.Delivery{
			Acknowledger: k,
			DeliveryTag:  tag,
			RoutingKey:   name,
			ContentType:  "application/json",
			Body:         body,
		}
		select {
		case k.out <- d:
		case <-k.done:
			return
		}
	}
}

// stopLocked returns every unacked delivery to the head of the queue.
func (k *consumer) stopLocked() {
	if k.stopped {
		return
	}
	k.stopped = true
	close(k.done)
	var requeue [][]byte
	for tag := uint64(1); tag <= k.tag; tag++ {
		if body, ok := k.inflight[tag]; ok {
			requeue = append(requeue, body)
		}
	}
	k.inflight = make(map[uint64][]byte)
	k.queue.ready = append(requeue, k.queue.ready...)
	k.broker.cond.Broadcast()
}

func (k *consumer) settle(tag uint64) ([]byte, error) {
	if k.stopped {
		return nil, amqp.ErrClosed
	}
	body, ok := k.inflight[tag]
	if !ok {
		return nil, ErrUnknownTag
	}
	delete(k.inflight, tag)
	k.broker.cond.Broadcast()
	return body, nil
}

func (k *consumer) Ack(tag uint64, multiple bool) error {
	k.broker.mu.Lock()
	defer k.broker.mu.Unlock()
	if _, err := k.settle(tag); err != nil {
		return err
	}
	k.queue.acked++
	return nil
}

func (k *consumer) Nack(tag uint64, multiple bool, requeue bool) error {
	k.broker.mu.Lock()
	defer k.broker.mu.Unlock()
	body, err := k.settle(tag)
	if err != nil {
		return err
	}
	if requeue {
		k.queue.ready = append([][]byte{body}, k.queue.ready...)
	} else {
		k.queue.discarded = append(k.queue.discarded, body)
	}
	return nil
}

func (k *consumer) Reject(tag uint64, requeue bool) error {
	return k.Nack(tag, false, requeue)
}

func cloneBodies(in [][]byte) [][]byte {
	out := make([][]byte, 0, len(in))
	for _, body := range in {
		out = append(out, append([]byte(nil), body...))
	}
	return out
}
