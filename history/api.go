package history

import (
	"context"

	"github.com/mqy/minichat/model"
)

// IHistoryStore is the external message history.
type IHistoryStore interface {
	// Load gets prior messages, in store order.
	Load(ctx context.Context) ([]model.Message, error)

	// Append saves an outbound payload.
	Append(ctx context.Context, p *model.Payload) error
}

// NopStore is used when no history endpoint is configured.
type NopStore struct{}

func (NopStore) Load(context.Context) ([]model.Message, error) { return nil, nil }
func (NopStore) Append(context.Context, *model.Payload) error { return nil }
