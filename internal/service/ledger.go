package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/internal/repository"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/pagination"
	"github.com/utafrali/campaign-engine/pkg/validator"
)

// LedgerService records campaign applications and their compensations.
type LedgerService struct {
	repo   repository.LedgerRepository
	logger *slog.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(repo repository.LedgerRepository, logger *slog.Logger) *LedgerService {
	return &LedgerService{repo: repo, logger: logger}
}

// Commit charges every counter an application touches. Losing the race for
// the last unit of a limit or budget returns a retryable error and leaves
// nothing recorded.
func (s *LedgerService) Commit(ctx context.Context, in domain.CommitInput) (*domain.LedgerEntry, error) {
	if err := validator.Validate(in); err != nil {
		return nil, err
	}
	if in.DiscountAmount.GreaterThan(in.OrderTotal) {
		return nil, apperrors.InvalidInput("discount_amount exceeds order_total")
	}

	entry, err := s.repo.Commit(ctx, in)
	if err != nil {
		outcome := commitOutcome(err)
		commitsTotal.WithLabelValues(outcome).Inc()
		s.logger.WarnContext(ctx, "ledger commit rejected",
			slog.String("campaign_id", in.CampaignID),
			slog.String("order_id", in.OrderID),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("commit campaign usage: %w", err)
	}

	commitsTotal.WithLabelValues("committed").Inc()
	s.logger.InfoContext(ctx, "campaign usage committed",
		slog.String("campaign_id", in.CampaignID),
		slog.String("order_id", in.OrderID),
		slog.String("discount", in.DiscountAmount.String()),
	)
	return entry, nil
}

func commitOutcome(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrUsageLimitExceeded):
		return "usage_limit"
	case errors.Is(err, apperrors.ErrBudgetExceeded):
		return "budget"
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return "duplicate"
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Compensate appends compensation entries for a cancelled order. Calling it
// again for the same order records nothing new.
func (s *LedgerService) Compensate(ctx context.Context, orderID string) ([]domain.LedgerEntry, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}
	entries, err := s.repo.Compensate(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("compensate order: %w", err)
	}
	if len(entries) > 0 {
		s.logger.InfoContext(ctx, "ledger compensated",
			slog.String("order_id", orderID),
			slog.Int("entries", len(entries)),
		)
	}
	return entries, nil
}

// ListEntries returns a campaign's ledger, newest first.
func (s *LedgerService) ListEntries(ctx context.Context, campaignID string, page pagination.Params) ([]domain.LedgerEntry, int, error) {
	entries, total, err := s.repo.ListByCampaign(ctx, campaignID, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger: %w", err)
	}
	return entries, total, nil
}

// Summary aggregates a campaign's ledger.
func (s *LedgerService) Summary(ctx context.Context, campaignID string) (*domain.LedgerSummary, error) {
	summary, err := s.repo.Summary(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("ledger summary: %w", err)
	}
	return summary, nil
}
