package broker

import (
	"context"
	"errors"
	"time"

	"github.com/ksred/position-guard/internal/types"
)

var (
	// ErrUnavailable indicates the broker connection failed for this call.
	// Retry policy belongs to the client implementation, not to callers.
	ErrUnavailable = errors.New("broker unavailable")

	// ErrUnknownTicket indicates the broker has no record of the ticket.
	ErrUnknownTicket = errors.New("unknown position ticket")
)

// CloseOutcome is the broker's report of a close call. AlreadyClosed marks
// an idempotent no-op: the ticket was closed before this call.
type CloseOutcome struct {
	Ticket        int64     `json:"ticket"`
	ClosePrice    float64   `json:"close_price"`
	Profit        float64   `json:"profit"`
	ClosedAt      time.Time `json:"closed_at"`
	AlreadyClosed bool      `json:"already_closed"`
}

// Client is the broker connection boundary. Implementations own their retry
// and circuit-breaking; the engine treats each call as a single fallible
// operation under a caller-supplied timeout.
type Client interface {
	FetchPositions(ctx context.Context, accountID string) ([]types.BrokerPosition, types.AccountSnapshot, error)
	ClosePosition(ctx context.Context, ticket int64) (CloseOutcome, error)
}

// TickSource provides recent bid/ask observations for an instrument.
type TickSource interface {
	RecentTicks(ctx context.Context, symbol string) ([]types.Tick, error)
}
