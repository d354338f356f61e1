package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/ai-gateway-go/internal/model"
)

// TierRepository resolves a user's subscription tier. Read-only on the
// request path; callers default to free when the lookup fails.
type TierRepository interface {
	GetTier(ctx context.Context, userID string) (model.Tier, error)
}

type tierRepo struct {
	db *sqlx.DB
}

func NewTierRepository(db *sqlx.DB) TierRepository {
	return &tierRepo{db: db}
}

func (r *tierRepo) GetTier(ctx context.Context, userID string) (model.Tier, error) {
	var tier string
	err := r.db.GetContext(ctx, &tier, `
		SELECT tier FROM accounts WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TierFree, nil
	}
	if err != nil {
		return model.TierFree, err
	}
	return model.ParseTier(tier), nil
}
