package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/utafrali/campaign-engine/internal/domain"
	pkgkafka "github.com/utafrali/campaign-engine/pkg/kafka"
	"github.com/utafrali/campaign-engine/pkg/logger"
)

// Kafka topics for campaign domain events.
var (
	TopicCampaignCreated       = pkgkafka.Topic("campaign", "created")
	TopicCampaignStatusChanged = pkgkafka.Topic("campaign", "status_changed")
	TopicCampaignApplied       = pkgkafka.Topic("campaign", "applied")
)

// AggregateTypeCampaign is the aggregate type of every campaign event.
const AggregateTypeCampaign = "campaign"

// SourceCampaignEngine identifies events originating from this service.
const SourceCampaignEngine = "campaign-engine"

// CampaignCreatedData is the payload for a campaign.created event.
type CampaignCreatedData struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Scope     domain.Scope  `json:"scope"`
	TenancyID *string       `json:"tenancy_id,omitempty"`
	Status    domain.Status `json:"status"`
	Priority  int           `json:"priority"`
}

// CampaignStatusChangedData is the payload for a campaign.status_changed event.
type CampaignStatusChangedData struct {
	ID   string        `json:"id"`
	From domain.Status `json:"from"`
	To   domain.Status `json:"to"`
}

// CampaignAppliedData is the payload for a campaign.applied event. Wallet and
// loyalty fulfillment consume the side effects from it.
type CampaignAppliedData struct {
	CampaignID    string              `json:"campaign_id"`
	TenancyID     string              `json:"tenancy_id"`
	UserID        string              `json:"user_id"`
	OrderID       string              `json:"order_id"`
	TotalDiscount decimal.Decimal     `json:"total_discount"`
	FinalAmount   decimal.Decimal     `json:"final_amount"`
	SideEffects   []domain.SideEffect `json:"side_effects"`
}

// Publisher is the part of pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes campaign domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the campaign engine.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, tenancyID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypeCampaign, SourceCampaignEngine, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithCorrelationID(logger.CorrelationIDFromContext(ctx))
	if tenancyID != "" {
		event.WithTenancy(tenancyID)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("campaign_id", aggregateID),
	)
	return nil
}

// PublishCampaignCreated publishes a campaign.created event.
func (p *Producer) PublishCampaignCreated(ctx context.Context, c *domain.Campaign) error {
	data := CampaignCreatedData{
		ID:        c.ID,
		Name:      c.Name,
		Scope:     c.Scope,
		TenancyID: c.TenancyID,
		Status:    c.Status,
		Priority:  c.Priority,
	}
	tenancy := ""
	if c.TenancyID != nil {
		tenancy = *c.TenancyID
	}
	return p.publish(ctx, TopicCampaignCreated, c.ID, tenancy, data)
}

// PublishStatusChanged publishes a campaign.status_changed event.
func (p *Producer) PublishStatusChanged(ctx context.Context, id string, from, to domain.Status) error {
	return p.publish(ctx, TopicCampaignStatusChanged, id, "", CampaignStatusChangedData{ID: id, From: from, To: to})
}

// PublishCampaignApplied publishes a campaign.applied event for a committed
// checkout.
func (p *Producer) PublishCampaignApplied(ctx context.Context, req domain.CheckoutRequest, result *domain.ApplicationResult) error {
	if result.AppliedCampaign == nil {
		return nil
	}
	data := CampaignAppliedData{
		CampaignID:    result.AppliedCampaign.ID,
		TenancyID:     req.TenancyID,
		UserID:        req.UserID,
		OrderID:       req.OrderID,
		TotalDiscount: result.TotalDiscount,
		FinalAmount:   result.FinalAmount,
		SideEffects:   result.SideEffects,
	}
	return p.publish(ctx, TopicCampaignApplied, result.AppliedCampaign.ID, req.TenancyID, data)
}
