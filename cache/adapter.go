package cache

import (
	"context"
	"sync"

	"github.com/nisekogame/backend/cache/local"
	cacheredis "github.com/nisekogame/backend/cache/redis"
)

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations. It carries
// notifications between requests and processes; it never holds store state.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
	Close() error
}

// Config holds configuration for both Redis and the in-process bus.
type Config struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	LocalPubSubBuf int
}

// NewPubSub returns a PubSub backed by Redis if RedisAddr is set,
// otherwise returns an in-process LocalPubSub wrapped in an adapter.
func NewPubSub(cfg Config) (PubSub, error) {
	bufSize := cfg.LocalPubSubBuf
	if bufSize <= 0 {
		bufSize = 256
	}
	if cfg.RedisAddr != "" {
		rps, err := cacheredis.NewPubSub(cacheredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &redisPubSubAdapter{ps: rps, bufSize: bufSize}, nil
	}
	return &localPubSubAdapter{ps: local.NewPubSub(bufSize), bufSize: bufSize}, nil
}

// ---- adapters to bridge sub-package message types to cache.Message ----

type localPubSubAdapter struct {
	ps      *local.LocalPubSub
	bufSize int
}

func (a *localPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *localPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	localCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out, stop := forward(localCh, cancel, a.bufSize, func(m *local.LocalMessage) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	})
	return out, stop, nil
}

func (a *localPubSubAdapter) Close() error { return nil }

type redisPubSubAdapter struct {
	ps      *cacheredis.RedisPubSub
	bufSize int
}

func (a *redisPubSubAdapter) Publish(ctx context.Context, channel, message string) error {
	return a.ps.Publish(ctx, channel, message)
}

func (a *redisPubSubAdapter) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	redisCh, cancel, err := a.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out, stop := forward(redisCh, cancel, a.bufSize, func(m *cacheredis.RedisMessage) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	})
	return out, stop, nil
}

func (a *redisPubSubAdapter) Close() error { return a.ps.Close() }

// forward copies messages from in to a new buffered channel until in closes
// or the returned stop is called. stop also runs cancel and may be called
// more than once; after it returns the copying goroutine never blocks.
func forward[T any](in <-chan T, cancel func(), bufSize int, conv func(T) *Message) (<-chan *Message, func()) {
	out := make(chan *Message, bufSize)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- conv(msg):
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	return out, stop
}
