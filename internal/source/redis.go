package source

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// channelPrefix namespaces LiveSync traffic on a shared Redis instance.
const channelPrefix = "livesync:"

// Redis implements Source using Redis pub/sub. This is the backend used when
// the POS backend pushes change feeds through a Redis-compatible server
// (Redis, Dragonfly, Valkey).
//
// Messages are not persisted; a subscription only sees payloads published
// while it is open, which matches the live-update semantics the coordinator
// expects.
type Redis struct {
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis creates a Redis-backed source.
// url should be in the format: redis://[password@]host:port[/db]
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis-compatible backend for live updates")

	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Subscribe opens a Redis subscription for a resource id and pumps payloads
// into onData until torn down.
func (r *Redis) Subscribe(resourceID string, onData DataFunc) (Teardown, error) {
	pubsub := r.client.Subscribe(r.ctx, channelPrefix+resourceID)

	// Wait for the subscription to be ready
	if _, err := pubsub.Receive(r.ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	subCtx, subCancel := context.WithCancel(r.ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { _ = pubsub.Close() }()

		msgCh := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				onData([]byte(msg.Payload))
			}
		}
	}()

	var once sync.Once
	teardown := func() {
		once.Do(subCancel)
	}
	return teardown, nil
}

// Close tears down all subscriptions and closes the client.
func (r *Redis) Close() error {
	r.cancel()
	r.wg.Wait()

	err := r.client.Close()
	log.Info().Msg("Redis source closed")
	return err
}
