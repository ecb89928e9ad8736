package kv

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"udmportal/internal/logger"
	"udmportal/internal/redis"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LocalBroker fans changes out to in-process subscribers synchronously, in
// subscription order.
type LocalBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Change)
	order  []int
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[int]func(Change))}
}

func (b *LocalBroker) Publish(_ context.Context, change Change) error {
	b.mu.RLock()
	fns := make([]func(Change), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(change)
	}
	return nil
}

func (b *LocalBroker) Subscribe(fn func(Change)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *LocalBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

const redisChangeChannel = "portal:storage"

// RedisNotifier carries changes over a redis pub/sub channel so several
// processes serving the same profile see each other's writes. Changes
// published here come back through the channel and are delivered to local
// subscribers from there, never directly.
type RedisNotifier struct {
	client *redis.Client
	local  *LocalBroker
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, local: NewLocalBroker(), logger: logger.Component("kv")}
}

// Start subscribes to the channel and begins delivering changes. It returns
// once the subscription is confirmed.
func (n *RedisNotifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return errors.New("kv: redis notifier already started")
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	pubsub, err := n.client.Subscribe(ctx, redisChangeChannel)
	if err != nil {
		cancel()
		return err
	}
	n.cancel = cancel
	n.done = make(chan struct{})
	go n.listen(listenCtx, pubsub.Channel(), func() { pubsub.Close() })
	return nil
}

func (n *RedisNotifier) listen(ctx context.Context, ch <-chan *goredis.Message, closeSub func()) {
	defer close(n.done)
	defer closeSub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				n.logger.Warn().Err(err).Str("channel", redisChangeChannel).Msg("kv change decode failed")
				continue
			}
			_ = n.local.Publish(ctx, change)
		}
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, redisChangeChannel, payload)
}

func (n *RedisNotifier) Subscribe(fn func(Change)) func() {
	return n.local.Subscribe(fn)
}

// Close stops the listener and waits for it to exit.
func (n *RedisNotifier) Close() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel = nil
	n.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
