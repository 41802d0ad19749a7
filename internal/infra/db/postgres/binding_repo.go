package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"emby-entitlement-bot/internal/domain"
	"emby-entitlement-bot/internal/domain/model"
	"emby-entitlement-bot/internal/domain/ports/repository"
)

// Ensure interface compliance:
var _ repository.BindingRepository = (*bindingRepo)(nil)

type bindingRepo struct {
	pool *pgxpool.Pool
}

func NewBindingRepo(pool *pgxpool.Pool) *bindingRepo {
	return &bindingRepo{pool: pool}
}

func (r *bindingRepo) Save(ctx context.Context, b *model.AccountBinding) error {
	history, err := json.Marshal(b.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	const q = `
INSERT INTO account_bindings
  (telegram_id, username, emby_user_id, emby_username,
   created_at, expires_at, state, disabled_at, history)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (telegram_id) DO UPDATE SET
  username      = EXCLUDED.username,
  emby_user_id  = EXCLUDED.emby_user_id,
  emby_username = EXCLUDED.emby_username,
  expires_at    = EXCLUDED.expires_at,
  state         = EXCLUDED.state,
  disabled_at   = EXCLUDED.disabled_at,
  history       = EXCLUDED.history;
`
	_, err = r.pool.Exec(ctx, q,
		b.TelegramID,
		b.Username,
		b.EmbyUserID,
		b.EmbyUsername,
		b.CreatedAt,
		b.ExpiresAt,
		string(b.State),
		b.DisabledAt,
		history,
	)
	if err != nil {
		return fmt.Errorf("save binding: %w", err)
	}
	return nil
}

func (r *bindingRepo) Find(ctx context.Context, telegramID int64) (*model.AccountBinding, error) {
	const q = selectBinding + `
 WHERE telegram_id = $1;`
	b, err := scanBinding(r.pool.QueryRow(ctx, q, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find binding: %w", err)
	}
	return b, nil
}

func (r *bindingRepo) FindByEmbyUsername(ctx context.Context, embyUsername string) (*model.AccountBinding, error) {
	const q = selectBinding + `
 WHERE emby_username = $1;`
	b, err := scanBinding(r.pool.QueryRow(ctx, q, embyUsername))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find binding by emby username: %w", err)
	}
	return b, nil
}

func (r *bindingRepo) Delete(ctx context.Context, telegramID int64) error {
	const q = `DELETE FROM account_bindings WHERE telegram_id = $1;`
	ct, err := r.pool.Exec(ctx, q, telegramID)
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *bindingRepo) ListAll(ctx context.Context) ([]*model.AccountBinding, error) {
	const q = selectBinding + `
 ORDER BY created_at;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var out []*model.AccountBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const selectBinding = `
SELECT telegram_id, username, emby_user_id, emby_username,
       created_at, expires_at, state, disabled_at, history
  FROM account_bindings`

func scanBinding(row pgx.Row) (*model.AccountBinding, error) {
	var (
		b       model.AccountBinding
		state   string
		history []byte
	)
	if err := row.Scan(
		&b.TelegramID,
		&b.Username,
		&b.EmbyUserID,
		&b.EmbyUsername,
		&b.CreatedAt,
		&b.ExpiresAt,
		&state,
		&b.DisabledAt,
		&history,
	); err != nil {
		return nil, err
	}
	b.State = model.BindingState(state)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &b.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	return &b, nil
}
