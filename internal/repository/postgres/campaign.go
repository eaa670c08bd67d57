package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/campaign-engine/internal/domain"
	"github.com/utafrali/campaign-engine/pkg/database"
	apperrors "github.com/utafrali/campaign-engine/pkg/errors"
	"github.com/utafrali/campaign-engine/pkg/pagination"
)

const campaignColumns = `id, name, description, scope, tenancy_id, applicable_tenancies, all_tenancies,
	start_date, end_date, priority, status, triggers, audience, promotions,
	budget_type, budget_total, budget_spent, per_user_cap, budget_source,
	total_usage_limit, per_user_limit, daily_limit, used_count, stacking,
	conversions, total_savings, total_revenue, requires_approval, template_id,
	created_at, updated_at`

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db database.DBTX
}

// NewCampaignRepository creates a new PostgreSQL-backed campaign repository.
func NewCampaignRepository(db database.DBTX) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// campaignDocs holds the JSONB columns of a campaign.
type campaignDocs struct {
	tenancies, triggers, audience, promotions, stacking []byte
}

func marshalCampaignDocs(c *domain.Campaign) (campaignDocs, error) {
	var (
		d   campaignDocs
		err error
	)
	tenancies := c.ApplicableTenancies
	if tenancies == nil {
		tenancies = []string{}
	}
	if d.tenancies, err = json.Marshal(tenancies); err != nil {
		return d, fmt.Errorf("marshal applicable_tenancies: %w", err)
	}
	if d.triggers, err = json.Marshal(c.Triggers); err != nil {
		return d, fmt.Errorf("marshal triggers: %w", err)
	}
	if d.audience, err = json.Marshal(c.Audience); err != nil {
		return d, fmt.Errorf("marshal audience: %w", err)
	}
	if d.promotions, err = json.Marshal(c.Promotions); err != nil {
		return d, fmt.Errorf("marshal promotions: %w", err)
	}
	if d.stacking, err = json.Marshal(c.Stacking); err != nil {
		return d, fmt.Errorf("marshal stacking: %w", err)
	}
	return d, nil
}

func triggerTypes(c *domain.Campaign) []string {
	out := make([]string, 0, len(c.Triggers))
	for _, t := range c.Triggers {
		out = append(out, string(t.Type))
	}
	return out
}

// Create inserts a new campaign into the database.
func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	docs, err := marshalCampaignDocs(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO campaigns (
			id, name, description, scope, tenancy_id, applicable_tenancies, all_tenancies,
			start_date, end_date, priority, status, triggers, trigger_types, audience, promotions,
			budget_type, budget_total, budget_spent, per_user_cap, budget_source,
			total_usage_limit, per_user_limit, daily_limit, used_count, stacking,
			requires_approval, template_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`

	_, err = r.db.Exec(ctx, query,
		c.ID,
		c.Name,
		c.Description,
		c.Scope,
		c.TenancyID,
		docs.tenancies,
		c.AllTenancies,
		c.StartDate,
		c.EndDate,
		c.Priority,
		c.Status,
		docs.triggers,
		triggerTypes(c),
		docs.audience,
		docs.promotions,
		c.Budget.Type,
		c.Budget.TotalAmount,
		c.Budget.SpentAmount,
		c.Budget.PerUserCap,
		c.Budget.Source,
		c.Limits.TotalUsageLimit,
		c.Limits.PerUserLimit,
		c.Limits.DailyLimit,
		c.Limits.UsedCount,
		docs.stacking,
		c.RequiresApproval,
		c.TemplateID,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("campaign", "id", c.ID)
		}
		return fmt.Errorf("insert campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign by its ID.
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	c, err := scanCampaign(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("campaign", id)
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// List returns campaigns matching the given filter with the total count.
func (r *CampaignRepository) List(ctx context.Context, filter domain.CampaignFilter, page pagination.Params) ([]domain.Campaign, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.TenancyID != nil {
		conditions = append(conditions, fmt.Sprintf("tenancy_id = $%d", argIndex))
		args = append(args, *filter.TenancyID)
		argIndex++
	}

	if filter.Scope != nil {
		conditions = append(conditions, fmt.Sprintf("scope = $%d", argIndex))
		args = append(args, *filter.Scope)
		argIndex++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM campaigns
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		campaignColumns, whereClause, argIndex, argIndex+1,
	)
	limit, offset := limitOffset(page)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var (
		campaigns  []domain.Campaign
		totalCount int
	)
	for rows.Next() {
		c, err := scanCampaign(rows, &totalCount)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign row: %w", err)
		}
		campaigns = append(campaigns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate campaign rows: %w", err)
	}

	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	return campaigns, totalCount, nil
}

// Update modifies the authored fields of an existing campaign. Status,
// counters and analytics are left alone.
func (r *CampaignRepository) Update(ctx context.Context, c *domain.Campaign) error {
	docs, err := marshalCampaignDocs(c)
	if err != nil {
		return err
	}

	c.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE campaigns
		SET name = $1, description = $2, applicable_tenancies = $3, all_tenancies = $4,
		    start_date = $5, end_date = $6, priority = $7, triggers = $8, trigger_types = $9,
		    audience = $10, promotions = $11, budget_type = $12, budget_total = $13,
		    per_user_cap = $14, budget_source = $15, total_usage_limit = $16,
		    per_user_limit = $17, daily_limit = $18, stacking = $19,
		    requires_approval = $20, updated_at = $21
		WHERE id = $22`

	ct, err := r.db.Exec(ctx, query,
		c.Name,
		c.Description,
		docs.tenancies,
		c.AllTenancies,
		c.StartDate,
		c.EndDate,
		c.Priority,
		docs.triggers,
		triggerTypes(c),
		docs.audience,
		docs.promotions,
		c.Budget.Type,
		c.Budget.TotalAmount,
		c.Budget.PerUserCap,
		c.Budget.Source,
		c.Limits.TotalUsageLimit,
		c.Limits.PerUserLimit,
		c.Limits.DailyLimit,
		docs.stacking,
		c.RequiresApproval,
		c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		if isCheckViolation(err) {
			return apperrors.InvalidInput("campaign limits are below its recorded usage")
		}
		return fmt.Errorf("update campaign: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("campaign", c.ID)
	}

	return nil
}

// UpdateStatus moves a campaign from one status to another.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, from, to domain.Status) error {
	query := `
		UPDATE campaigns
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	ct, err := r.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("campaign %s is no longer %s", id, from))
	}

	return nil
}

// ListCandidates returns the campaigns that may apply to a checkout.
func (r *CampaignRepository) ListCandidates(ctx context.Context, tenancyID string, trigger domain.TriggerType, now time.Time) (_ []*domain.Campaign, err error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = 'ACTIVE'
		  AND start_date <= $3 AND end_date > $3
		  AND $2 = ANY(trigger_types)
		  AND ((scope = 'TENANT' AND tenancy_id = $1)
		    OR (scope = 'GLOBAL' AND (all_tenancies
		        OR applicable_tenancies = '[]'::jsonb
		        OR applicable_tenancies @> jsonb_build_array($1::text))))
		ORDER BY priority DESC, created_at ASC`

	ctx, end := database.TraceQuery(ctx, "ListCandidates", query)
	defer func() { end(err) }()

	return r.queryCampaigns(ctx, query, tenancyID, string(trigger), now)
}

// ListExpired returns running campaigns whose window has ended.
func (r *CampaignRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status IN ('ACTIVE', 'PAUSED') AND end_date <= $1
		ORDER BY end_date ASC
		LIMIT $2`

	return r.queryCampaigns(ctx, query, now, limit)
}

func (r *CampaignRepository) queryCampaigns(ctx context.Context, query string, args ...any) ([]*domain.Campaign, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaign rows: %w", err)
	}
	return campaigns, nil
}

// scanCampaign reads one row selected with campaignColumns followed by any
// extra destinations.
func scanCampaign(row pgx.Row, extra ...any) (*domain.Campaign, error) {
	var (
		c    domain.Campaign
		docs campaignDocs
	)

	dest := []any{
		&c.ID,
		&c.Name,
		&c.Description,
		&c.Scope,
		&c.TenancyID,
		&docs.tenancies,
		&c.AllTenancies,
		&c.StartDate,
		&c.EndDate,
		&c.Priority,
		&c.Status,
		&docs.triggers,
		&docs.audience,
		&docs.promotions,
		&c.Budget.Type,
		&c.Budget.TotalAmount,
		&c.Budget.SpentAmount,
		&c.Budget.PerUserCap,
		&c.Budget.Source,
		&c.Limits.TotalUsageLimit,
		&c.Limits.PerUserLimit,
		&c.Limits.DailyLimit,
		&c.Limits.UsedCount,
		&docs.stacking,
		&c.Analytics.Conversions,
		&c.Analytics.TotalSavings,
		&c.Analytics.TotalRevenue,
		&c.RequiresApproval,
		&c.TemplateID,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if err := unmarshalDoc(docs.tenancies, &c.ApplicableTenancies, "applicable_tenancies"); err != nil {
		return nil, err
	}
	if err := unmarshalDoc(docs.triggers, &c.Triggers, "triggers"); err != nil {
		return nil, err
	}
	if err := unmarshalDoc(docs.audience, &c.Audience, "audience"); err != nil {
		return nil, err
	}
	if err := unmarshalDoc(docs.promotions, &c.Promotions, "promotions"); err != nil {
		return nil, err
	}
	if err := unmarshalDoc(docs.stacking, &c.Stacking, "stacking"); err != nil {
		return nil, err
	}
	if c.Triggers == nil {
		c.Triggers = []domain.Trigger{}
	}
	if c.Promotions == nil {
		c.Promotions = []domain.PromotionRef{}
	}

	return &c, nil
}
