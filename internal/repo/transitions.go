package repo

import (
	"context"
	"database/sql"

	"monsterline/internal/domain"
)

// AppendTransitionTx writes one history record inside an open transaction.
// The transitions table is append-only; records are never updated or removed
// except by monster cascade.
func (r Repo) AppendTransitionTx(ctx context.Context, tx *sql.Tx, t domain.Transition) (int64, error) {
	var from any
	if t.FromState != nil {
		from = string(*t.FromState)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO transitions(monster_id,from_state,to_state,ts,actor,note) VALUES (?,?,?,?,?,?)`,
		t.MonsterID, from, string(t.ToState), t.Timestamp, t.Actor, nullableStringPtr(t.Note))
	if err != nil {
		return 0, storageErr("append transition", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("append transition", err)
	}
	return id, nil
}

// ListTransitions returns a monster's history oldest first.
func (r Repo) ListTransitions(ctx context.Context, monsterID string) ([]domain.Transition, error) {
	return listTransitions(ctx, r.DB, monsterID)
}

func listTransitions(ctx context.Context, q dbtx, monsterID string) ([]domain.Transition, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,monster_id,from_state,to_state,ts,actor,note
FROM transitions WHERE monster_id=? ORDER BY id`, monsterID)
	if err != nil {
		return nil, storageErr("list transitions", err)
	}
	defer rows.Close()
	return scanTransitions(rows)
}

// LatestTransitions returns the most recent history records across all
// monsters, newest first. Feeds the dashboard activity feed.
func (r Repo) LatestTransitions(ctx context.Context, limit int) ([]domain.Transition, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,monster_id,from_state,to_state,ts,actor,note
FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("latest transitions", err)
	}
	defer rows.Close()
	return scanTransitions(rows)
}

func scanTransitions(rows *sql.Rows) ([]domain.Transition, error) {
	var res []domain.Transition
	for rows.Next() {
		var (
			t    domain.Transition
			from sql.NullString
			to   string
		)
		if err := rows.Scan(&t.ID, &t.MonsterID, &from, &to, &t.Timestamp, &t.Actor, &t.Note); err != nil {
			return nil, storageErr("scan transition", err)
		}
		if from.Valid {
			s := domain.State(from.String)
			t.FromState = &s
		}
		t.ToState = domain.State(to)
		res = append(res, t)
	}
	return res, rows.Err()
}
