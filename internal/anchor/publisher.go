// Package anchor publishes appended ledger entries to a Kafka topic so an
// external anchoring worker can commit them to a third-party system. The
// worker, not this service, is what eventually supplies anchor_tx values.
package anchor

import (
	"context"

	"github.com/terminal-archives/paperledger/internal/ledger"
)

// Publisher emits entry-appended events. Publishing is best-effort: an
// append that cannot be announced is still a committed append.
type Publisher interface {
	Publish(ctx context.Context, entry *ledger.Entry) error
	Close() error
}

// Noop is the Publisher used when no brokers are configured.
type Noop struct{}

// NewNoop creates a Noop publisher.
func NewNoop() *Noop { return &Noop{} }

// Publish implements Publisher.
func (*Noop) Publish(context.Context, *ledger.Entry) error { return nil }

// Close implements Publisher.
func (*Noop) Close() error { return nil }
