package cache

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Invalidator decouples writers from the cache: the scheduler and closer
// publish account IDs after persisting, and the invalidator consumes them
// and drops that account's cached queries. Persistence never reaches into
// cache internals.
type Invalidator struct {
	cache  Cache
	events chan string
}

func NewInvalidator(cache Cache) *Invalidator {
	return &Invalidator{
		cache:  cache,
		events: make(chan string, 64),
	}
}

// Notify queues an invalidation for the account. Non-blocking: if the queue
// is full the event is dropped and entries age out by TTL instead.
func (i *Invalidator) Notify(accountID string) {
	select {
	case i.events <- accountID:
	default:
		log.Warn().Str("account_id", accountID).Msg("invalidation queue full, relying on TTL expiry")
	}
}

// Start consumes invalidation events until ctx is cancelled.
func (i *Invalidator) Start(ctx context.Context) {
	logger := log.With().Str("component", "cache_invalidator").Logger()
	logger.Info().Msg("starting cache invalidator")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down cache invalidator")
			return
		case accountID := <-i.events:
			if err := i.cache.InvalidateAccount(ctx, accountID); err != nil {
				logger.Error().Err(err).Str("account_id", accountID).Msg("cache invalidation failed")
				continue
			}
			logger.Debug().Str("account_id", accountID).Msg("cache invalidated")
		}
	}
}
