package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/campaign-engine/internal/domain"
	pkgkafka "github.com/utafrali/campaign-engine/pkg/kafka"
)

// TopicOrderCancelled is published by the order service.
var TopicOrderCancelled = pkgkafka.Topic("order", "cancelled")

// OrderCancelledData is the payload of an order.cancelled event.
type OrderCancelledData struct {
	OrderID   string `json:"order_id"`
	TenancyID string `json:"tenancy_id"`
	Reason    string `json:"reason,omitempty"`
}

// Compensator appends compensation entries for a cancelled order.
type Compensator interface {
	Compensate(ctx context.Context, orderID string) ([]domain.LedgerEntry, error)
}

// OrderCancelledHandler compensates the ledger of every cancelled order.
// Compensation is idempotent, so redelivered events are harmless.
func OrderCancelledHandler(compensator Compensator, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, event *pkgkafka.Event) error {
		var data OrderCancelledData
		if err := event.UnmarshalData(&data); err != nil {
			return fmt.Errorf("decode order.cancelled: %w", err)
		}
		if data.OrderID == "" {
			logger.WarnContext(ctx, "order.cancelled without order_id, skipping",
				slog.String("event_id", event.EventID),
			)
			return nil
		}

		entries, err := compensator.Compensate(ctx, data.OrderID)
		if err != nil {
			return fmt.Errorf("compensate order %s: %w", data.OrderID, err)
		}

		logger.InfoContext(ctx, "order compensated",
			slog.String("order_id", data.OrderID),
			slog.Int("entries", len(entries)),
		)
		return nil
	}
}
