package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"emby-entitlement-bot/internal/domain"
	"emby-entitlement-bot/internal/domain/model"
	"emby-entitlement-bot/internal/domain/ports/repository"
)

// Ensure interface compliance:
var _ repository.CodeRepository = (*codeRepo)(nil)

type codeRepo struct {
	pool *pgxpool.Pool
}

func NewCodeRepo(pool *pgxpool.Pool) *codeRepo {
	return &codeRepo{pool: pool}
}

func (r *codeRepo) Save(ctx context.Context, code *model.RedemptionCode) error {
	const q = `
INSERT INTO redemption_codes
  (id, code, kind, grant_days, redeemed, redeemed_by, redeemed_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);
`
	_, err := r.pool.Exec(ctx, q,
		code.ID,
		code.Code,
		string(code.Kind),
		code.GrantDays,
		code.Redeemed,
		code.RedeemedBy,
		code.RedeemedAt,
		code.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrCodeCollision
		}
		return fmt.Errorf("save code: %w", err)
	}
	return nil
}

func (r *codeRepo) FindByCode(ctx context.Context, token string) (*model.RedemptionCode, error) {
	const q = `
SELECT id, code, kind, grant_days, redeemed, redeemed_by, redeemed_at, created_at
  FROM redemption_codes
 WHERE code = $1;
`
	row := r.pool.QueryRow(ctx, q, token)
	code, err := scanCode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find code: %w", err)
	}
	return code, nil
}

// MarkRedeemed is the compare-and-swap of the registry: the conditional UPDATE
// guarantees exactly one winner for concurrent redemptions of the same code.
func (r *codeRepo) MarkRedeemed(ctx context.Context, token string, by int64, at time.Time) (bool, error) {
	const q = `
UPDATE redemption_codes
   SET redeemed = TRUE, redeemed_by = $2, redeemed_at = $3
 WHERE code = $1 AND redeemed = FALSE;
`
	ct, err := r.pool.Exec(ctx, q, token, by, at)
	if err != nil {
		return false, fmt.Errorf("mark redeemed: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *codeRepo) List(ctx context.Context, unusedOnly bool) ([]*model.RedemptionCode, error) {
	q := `
SELECT id, code, kind, grant_days, redeemed, redeemed_by, redeemed_at, created_at
  FROM redemption_codes`
	if unusedOnly {
		q += `
 WHERE redeemed = FALSE`
	}
	q += `
 ORDER BY created_at;`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	defer rows.Close()

	var out []*model.RedemptionCode
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

func scanCode(row pgx.Row) (*model.RedemptionCode, error) {
	var (
		c    model.RedemptionCode
		kind string
	)
	if err := row.Scan(
		&c.ID,
		&c.Code,
		&kind,
		&c.GrantDays,
		&c.Redeemed,
		&c.RedeemedBy,
		&c.RedeemedAt,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.Kind = model.CodeKind(kind)
	return &c, nil
}
