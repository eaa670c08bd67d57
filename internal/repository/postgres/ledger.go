package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/pkg/database"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/pagination"
)

const ledgerColumns = `id, campaign_id, tenancy_id, user_id, order_id, kind, discount_amount, order_total, created_at`

// LedgerRepository implements repository.LedgerRepository and
// repository.UsageRepository using PostgreSQL.
//
// Every counter is charged with a conditional update that only succeeds when
// the post-increment value stays within its cap. The campaign row is updated
// first, so concurrent commits of one campaign queue on its row lock and the
// per-user and per-day counters are charged one commit at a time.
type LedgerRepository struct {
	db database.DBTX
}

// NewLedgerRepository creates a new PostgreSQL-backed ledger repository.
func NewLedgerRepository(db database.DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// campaignCaps are the per-user and per-day limits returned by the campaign
// update, read under the row lock.
type campaignCaps struct {
	perUserLimit int
	perUserCap   decimal.Decimal
	dailyLimit   int
}

// Commit records one application in a single transaction.
func (r *LedgerRepository) Commit(ctx context.Context, in domain.CommitInput) (_ *domain.LedgerEntry, err error) {
	ctx, end := database.TraceQuery(ctx, "CommitUsage", "campaign ledger commit")
	defer func() { end(err) }()

	entry := &domain.LedgerEntry{
		ID:             uuid.NewString(),
		CampaignID:     in.CampaignID,
		TenancyID:      in.TenancyID,
		UserID:         in.UserID,
		OrderID:        in.OrderID,
		Kind:           domain.LedgerUsage,
		DiscountAmount: domain.RoundMoney(in.DiscountAmount),
		OrderTotal:     in.OrderTotal,
		CreatedAt:      time.Now().UTC(),
	}

	err = database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		caps, err := chargeCampaign(ctx, tx, entry)
		if err != nil {
			return err
		}
		if err := chargeUser(ctx, tx, entry, caps); err != nil {
			return err
		}
		if err := chargeDay(ctx, tx, entry.CampaignID, in.Day, caps.dailyLimit); err != nil {
			return err
		}
		for _, ref := range in.Applied {
			if err := chargePromotion(ctx, tx, ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	query := `
		INSERT INTO campaign_ledger (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		e.ID,
		e.CampaignID,
		e.TenancyID,
		e.UserID,
		e.OrderID,
		e.Kind,
		e.DiscountAmount,
		e.OrderTotal,
		e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("ledger entry", "order_id", e.OrderID)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func chargeCampaign(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) (campaignCaps, error) {
	query := `
		UPDATE campaigns
		SET used_count = used_count + 1,
		    budget_spent = budget_spent + $2,
		    conversions = conversions + 1,
		    total_savings = total_savings + $2,
		    total_revenue = total_revenue + $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'ACTIVE'
		  AND (total_usage_limit = 0 OR used_count < total_usage_limit)
		  AND (budget_type = 'UNLIMITED' OR budget_spent + $2 <= budget_total)
		RETURNING per_user_limit, per_user_cap, daily_limit`

	var caps campaignCaps
	err := tx.QueryRow(ctx, query, e.CampaignID, e.DiscountAmount, e.OrderTotal).
		Scan(&caps.perUserLimit, &caps.perUserCap, &caps.dailyLimit)
	if err == nil {
		return caps, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return caps, fmt.Errorf("charge campaign: %w", err)
	}
	return caps, classifyCampaignMiss(ctx, tx, e.CampaignID)
}

// classifyCampaignMiss explains why the campaign update matched no row.
func classifyCampaignMiss(ctx context.Context, tx pgx.Tx, id string) error {
	var (
		status     domain.Status
		limit      int
		used       int
		budgetType domain.BudgetType
	)
	err := tx.QueryRow(ctx,
		`SELECT status, total_usage_limit, used_count, budget_type FROM campaigns WHERE id = $1`, id,
	).Scan(&status, &limit, &used, &budgetType)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.NotFound("campaign", id)
	case err != nil:
		return fmt.Errorf("re-read campaign: %w", err)
	case status != domain.StatusActive:
		return apperrors.Conflict(fmt.Sprintf("campaign %s is %s", id, status))
	case limit > 0 && used >= limit:
		return apperrors.UsageLimitExceeded("campaign", id, "total")
	default:
		return apperrors.BudgetExceeded("campaign", id)
	}
}

func chargeUser(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry, caps campaignCaps) error {
	if caps.perUserCap.IsPositive() && e.DiscountAmount.GreaterThan(caps.perUserCap) {
		return apperrors.BudgetExceeded("campaign user budget", e.CampaignID)
	}

	query := `
		INSERT INTO campaign_user_usage (campaign_id, user_id, use_count, spent, updated_at)
		VALUES ($1, $2, 1, $3, NOW())
		ON CONFLICT (campaign_id, user_id) DO UPDATE
		SET use_count = campaign_user_usage.use_count + 1,
		    spent = campaign_user_usage.spent + EXCLUDED.spent,
		    updated_at = NOW()
		WHERE ($4 = 0 OR campaign_user_usage.use_count < $4)
		  AND ($5 = 0 OR campaign_user_usage.spent + EXCLUDED.spent <= $5)`

	ct, err := tx.Exec(ctx, query, e.CampaignID, e.UserID, e.DiscountAmount, caps.perUserLimit, caps.perUserCap)
	if err != nil {
		return fmt.Errorf("charge user usage: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT use_count FROM campaign_user_usage WHERE campaign_id = $1 AND user_id = $2`,
		e.CampaignID, e.UserID,
	).Scan(&count); err != nil {
		return fmt.Errorf("re-read user usage: %w", err)
	}
	if caps.perUserLimit > 0 && count >= caps.perUserLimit {
		return apperrors.UsageLimitExceeded("campaign", e.CampaignID, "per_user")
	}
	return apperrors.BudgetExceeded("campaign user budget", e.CampaignID)
}

func chargeDay(ctx context.Context, tx pgx.Tx, campaignID string, day time.Time, limit int) error {
	query := `
		INSERT INTO campaign_daily_usage (campaign_id, day, use_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (campaign_id, day) DO UPDATE
		SET use_count = campaign_daily_usage.use_count + 1
		WHERE $3 = 0 OR campaign_daily_usage.use_count < $3`

	ct, err := tx.Exec(ctx, query, campaignID, day.Format(time.DateOnly), limit)
	if err != nil {
		return fmt.Errorf("charge daily usage: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.UsageLimitExceeded("campaign", campaignID, "daily")
	}
	return nil
}

func chargePromotion(ctx context.Context, tx pgx.Tx, ref domain.AppliedRef) error {
	var table, resource string
	switch ref.Type {
	case domain.PromotionDiscount:
		table, resource = "discounts", "discount"
	case domain.PromotionCoupon:
		table, resource = "coupons", "coupon"
	default:
		return nil
	}

	query := `
		UPDATE ` + table + `
		SET used_count = used_count + 1,
		    total_savings = total_savings + $2,
		    total_orders = total_orders + 1,
		    updated_at = NOW()
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`

	ct, err := tx.Exec(ctx, query, ref.ID, ref.Amount)
	if err != nil {
		return fmt.Errorf("charge %s: %w", resource, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.UsageLimitExceeded(resource, ref.ID, "total")
	}
	return nil
}

// Compensate appends COMPENSATION entries for the order's uncompensated usage.
func (r *LedgerRepository) Compensate(ctx context.Context, orderID string) ([]domain.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM campaign_ledger u
		WHERE u.order_id = $1 AND u.kind = 'USAGE'
		  AND NOT EXISTS (
		    SELECT 1 FROM campaign_ledger c
		    WHERE c.order_id = u.order_id AND c.campaign_id = u.campaign_id AND c.kind = 'COMPENSATION')`

	var out []domain.LedgerEntry
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, orderID)
		if err != nil {
			return fmt.Errorf("find usage entries: %w", err)
		}
		usages, err := collectEntries(rows)
		if err != nil {
			return err
		}

		for _, u := range usages {
			comp := u
			comp.ID = uuid.NewString()
			comp.Kind = domain.LedgerCompensation
			comp.CreatedAt = time.Now().UTC()

			ct, err := tx.Exec(ctx, `
				INSERT INTO campaign_ledger (`+ledgerColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (order_id, campaign_id, kind) DO NOTHING`,
				comp.ID, comp.CampaignID, comp.TenancyID, comp.UserID, comp.OrderID,
				comp.Kind, comp.DiscountAmount, comp.OrderTotal, comp.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert compensation entry: %w", err)
			}
			if ct.RowsAffected() > 0 {
				out = append(out, comp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByCampaign returns a campaign's ledger entries, newest first.
func (r *LedgerRepository) ListByCampaign(ctx context.Context, campaignID string, page pagination.Params) ([]domain.LedgerEntry, int, error) {
	query := `
		SELECT ` + ledgerColumns + `, count(*) OVER() AS total_count
		FROM campaign_ledger
		WHERE campaign_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	limit, offset := limitOffset(page)
	rows, err := r.db.Query(ctx, query, campaignID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var (
		entries    []domain.LedgerEntry
		totalCount int
	)
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.CampaignID, &e.TenancyID, &e.UserID, &e.OrderID,
			&e.Kind, &e.DiscountAmount, &e.OrderTotal, &e.CreatedAt, &totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ledger entries: %w", err)
	}

	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	return entries, totalCount, nil
}

// Summary aggregates a campaign's ledger.
func (r *LedgerRepository) Summary(ctx context.Context, campaignID string) (*domain.LedgerSummary, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE kind = 'USAGE'),
			count(*) FILTER (WHERE kind = 'COMPENSATION'),
			COALESCE(sum(discount_amount) FILTER (WHERE kind = 'USAGE'), 0),
			COALESCE(sum(discount_amount) FILTER (WHERE kind = 'COMPENSATION'), 0)
		FROM campaign_ledger
		WHERE campaign_id = $1`

	s := &domain.LedgerSummary{CampaignID: campaignID}
	if err := r.db.QueryRow(ctx, query, campaignID).Scan(
		&s.Uses, &s.Compensations, &s.GrossSpent, &s.Compensated,
	); err != nil {
		return nil, fmt.Errorf("summarize ledger: %w", err)
	}
	s.NetSpent = s.GrossSpent.Sub(s.Compensated)
	return s, nil
}

// UsageFor returns the shopper's usage of each campaign in campaignIDs.
// Campaigns the shopper never used are absent from the map.
func (r *LedgerRepository) UsageFor(ctx context.Context, userID string, campaignIDs []string, day time.Time) (map[string]domain.CampaignUsage, error) {
	usage := make(map[string]domain.CampaignUsage, len(campaignIDs))
	if len(campaignIDs) == 0 {
		return usage, nil
	}

	query := `
		SELECT c.id, COALESCE(u.use_count, 0), COALESCE(u.spent, 0), COALESCE(d.use_count, 0)
		FROM unnest($2::text[]) AS c(id)
		LEFT JOIN campaign_user_usage u ON u.campaign_id = c.id::uuid AND u.user_id = $1
		LEFT JOIN campaign_daily_usage d ON d.campaign_id = c.id::uuid AND d.day = $3
		WHERE u.campaign_id IS NOT NULL OR d.campaign_id IS NOT NULL`

	rows, err := r.db.Query(ctx, query, userID, campaignIDs, day.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			u  domain.CampaignUsage
		)
		if err := rows.Scan(&id, &u.UserCount, &u.UserSpent, &u.DailyCount); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		usage[id] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return usage, nil
}

func collectEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.CampaignID, &e.TenancyID, &e.UserID, &e.OrderID,
			&e.Kind, &e.DiscountAmount, &e.OrderTotal, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}
