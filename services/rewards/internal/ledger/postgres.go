package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) Credit(ctx context.Context, e Entry) (bool, error) {
	const q = `INSERT INTO reward_ledger (id, user_id, rule, reference_id, points, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6)
	           ON CONFLICT (user_id, rule, reference_id) DO NOTHING`
	tag, err := l.pool.Exec(ctx, q, e.ID, e.UserID, e.Rule, e.ReferenceID, e.Points, e.CreatedAt)
	if err != nil {
		return false, status.Error(codes.Internal, "db")
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PostgresLedger) Exists(ctx context.Context, userID uuid.UUID, rule string, referenceID uuid.UUID) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reward_ledger WHERE user_id=$1 AND rule=$2 AND reference_id=$3)`,
		userID, rule, referenceID,
	).Scan(&exists)
	if err != nil {
		return false, status.Error(codes.Internal, "db")
	}
	return exists, nil
}

func (l *PostgresLedger) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	var total int
	if err := l.pool.QueryRow(ctx, `SELECT COALESCE(SUM(points), 0) FROM reward_ledger WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return 0, status.Error(codes.Internal, "db")
	}
	return total, nil
}
