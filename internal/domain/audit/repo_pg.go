package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medregistry/registry/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type recorderPG struct{ pool *pgxpool.Pool }

// NewRecorderPG creates the Postgres-backed audit sink. Append joins the
// caller's transaction when one is carried in the context, so a mutation and
// its audit record commit or roll back together.
func NewRecorderPG(pool *pgxpool.Pool) Recorder {
	return &recorderPG{pool: pool}
}

func (r *recorderPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *recorderPG) Append(ctx context.Context, e *Entry) error {
	diff, err := json.Marshal(e.Diff)
	if err != nil {
		return fmt.Errorf("audit append: marshal diff: %w", err)
	}

	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO audit_log (actor, action, patient_id, ip, user_agent, diff)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at`,
		e.Actor, e.Action, e.PatientID, e.IP, e.UserAgent, diff,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}
