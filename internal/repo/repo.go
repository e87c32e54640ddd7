package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"monsterline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// StorageError marks infrastructure faults so callers can tell them apart
// from domain errors.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// dbtx abstracts *sql.DB and *sql.Tx so the same statements serve both.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const monsterColumns = `id,state,doc_json,generated_by,generation_prompt,is_valid,validation_issues_json,
reviewed_by,review_date,review_notes,transmitted_at,transmission_attempts,last_transmission_error,external_id,
created_at,updated_at`

// Save upserts the monster row plus its card and skills in a single
// statement batch. Exactly one of Doc and Card must be set once the monster
// left GENERATED; Save persists whichever is present and NULLs the other.
func (r Repo) Save(ctx context.Context, m *domain.Monster) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()
	if err := r.SaveTx(ctx, tx, m); err != nil {
		return err
	}
	return storageErr("commit", tx.Commit())
}

func (r Repo) SaveTx(ctx context.Context, tx *sql.Tx, m *domain.Monster) error {
	docJSON, err := marshalDoc(m.Doc)
	if err != nil {
		return storageErr("marshal doc", err)
	}
	issuesJSON, err := marshalIssues(m.ValidationIssues)
	if err != nil {
		return storageErr("marshal issues", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO monsters(`+monsterColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
state=excluded.state, doc_json=excluded.doc_json, generated_by=excluded.generated_by,
generation_prompt=excluded.generation_prompt, is_valid=excluded.is_valid,
validation_issues_json=excluded.validation_issues_json, reviewed_by=excluded.reviewed_by,
review_date=excluded.review_date, review_notes=excluded.review_notes, transmitted_at=excluded.transmitted_at,
transmission_attempts=excluded.transmission_attempts, last_transmission_error=excluded.last_transmission_error,
external_id=excluded.external_id, updated_at=excluded.updated_at`,
		m.ID, string(m.State), docJSON, m.GeneratedBy, m.GenerationPrompt, boolInt(m.IsValid), issuesJSON,
		nullableStringPtr(m.ReviewedBy), nullableStringPtr(m.ReviewDate), nullableStringPtr(m.ReviewNotes),
		nullableStringPtr(m.TransmittedAt), m.TransmissionAttempts, nullableStringPtr(m.LastTransmissionErr),
		nullableStringPtr(m.ExternalID), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return storageErr("save monster", err)
	}
	if err := saveCard(ctx, tx, m); err != nil {
		return err
	}
	for i := range m.History {
		if m.History[i].ID != 0 {
			continue
		}
		id, err := r.AppendTransitionTx(ctx, tx, m.History[i])
		if err != nil {
			return err
		}
		m.History[i].ID = id
	}
	return nil
}

func saveCard(ctx context.Context, tx *sql.Tx, m *domain.Monster) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM monster_cards WHERE monster_id=?`, m.ID); err != nil {
		return storageErr("clear card", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM skills WHERE monster_id=?`, m.ID); err != nil {
		return storageErr("clear skills", err)
	}
	if m.Card == nil {
		return nil
	}
	c := m.Card
	_, err := tx.ExecContext(ctx, `INSERT INTO monster_cards(monster_id,name,element,rank,hp,atk,def,vit,card_description,visual_description,image_url)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, c.Name, c.Element, c.Rank, c.HP, c.ATK, c.DEF, c.VIT, c.CardDescription, c.VisualDescription, c.ImageURL)
	if err != nil {
		return storageErr("save card", err)
	}
	for i, s := range c.Skills {
		res, err := tx.ExecContext(ctx, `INSERT INTO skills(monster_id,name,description,damage,cooldown,lvl_max,rank,ratio_stat,ratio_percent)
VALUES (?,?,?,?,?,?,?,?,?)`,
			m.ID, s.Name, s.Description, s.Damage, s.Cooldown, s.LvlMax, s.Rank, s.RatioStat, s.RatioPercent)
		if err != nil {
			return storageErr("save skill", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			c.Skills[i].ID = id
		}
	}
	return nil
}

// Get loads a monster with its card, skills and full history.
func (r Repo) Get(ctx context.Context, id string) (*domain.Monster, error) {
	return r.get(ctx, r.DB, id)
}

// GetTx is Get inside an open transaction.
func (r Repo) GetTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Monster, error) {
	return r.get(ctx, tx, id)
}

func (r Repo) get(ctx context.Context, q dbtx, id string) (*domain.Monster, error) {
	m, err := scanMonster(q.QueryRowContext(ctx, `SELECT `+monsterColumns+` FROM monsters WHERE id=?`, id))
	if err != nil {
		return nil, storageErr("get monster", err)
	}
	if err := loadCard(ctx, q, m); err != nil {
		return nil, err
	}
	if m.Doc != nil && m.Card != nil {
		return nil, storageErr("get monster", fmt.Errorf("monster %s has both document and card payloads", id))
	}
	m.History, err = listTransitions(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func scanMonster(row *sql.Row) (*domain.Monster, error) {
	var (
		m          domain.Monster
		state      string
		docJSON    sql.NullString
		issuesJSON sql.NullString
		isValid    int
	)
	err := row.Scan(&m.ID, &state, &docJSON, &m.GeneratedBy, &m.GenerationPrompt, &isValid, &issuesJSON,
		&m.ReviewedBy, &m.ReviewDate, &m.ReviewNotes, &m.TransmittedAt, &m.TransmissionAttempts,
		&m.LastTransmissionErr, &m.ExternalID, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.State = domain.State(state)
	m.IsValid = isValid != 0
	if docJSON.Valid && docJSON.String != "" {
		if err := json.Unmarshal([]byte(docJSON.String), &m.Doc); err != nil {
			return nil, fmt.Errorf("decode doc: %w", err)
		}
	}
	if issuesJSON.Valid && issuesJSON.String != "" {
		if err := json.Unmarshal([]byte(issuesJSON.String), &m.ValidationIssues); err != nil {
			return nil, fmt.Errorf("decode issues: %w", err)
		}
	}
	return &m, nil
}

func loadCard(ctx context.Context, q dbtx, m *domain.Monster) error {
	var c domain.Card
	err := q.QueryRowContext(ctx, `SELECT name,element,rank,hp,atk,def,vit,card_description,visual_description,image_url
FROM monster_cards WHERE monster_id=?`, m.ID).
		Scan(&c.Name, &c.Element, &c.Rank, &c.HP, &c.ATK, &c.DEF, &c.VIT, &c.CardDescription, &c.VisualDescription, &c.ImageURL)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return storageErr("load card", err)
	}
	rows, err := q.QueryContext(ctx, `SELECT id,name,description,damage,cooldown,lvl_max,rank,ratio_stat,ratio_percent
FROM skills WHERE monster_id=? ORDER BY id`, m.ID)
	if err != nil {
		return storageErr("load skills", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s domain.Skill
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Damage, &s.Cooldown, &s.LvlMax, &s.Rank, &s.RatioStat, &s.RatioPercent); err != nil {
			return storageErr("scan skill", err)
		}
		c.Skills = append(c.Skills, s)
	}
	if err := rows.Err(); err != nil {
		return storageErr("load skills", err)
	}
	m.Card = &c
	return nil
}

// List returns monsters ordered by last update, optionally filtered by state.
// Listings carry the base row only; use Get for card, skills and history.
func (r Repo) List(ctx context.Context, state domain.State, limit, offset int) ([]domain.Monster, error) {
	query := `SELECT ` + monsterColumns + ` FROM monsters`
	var args []any
	if state != "" {
		query += ` WHERE state=?`
		args = append(args, string(state))
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list monsters", err)
	}
	defer rows.Close()
	var res []domain.Monster
	for rows.Next() {
		var (
			m          domain.Monster
			state      string
			docJSON    sql.NullString
			issuesJSON sql.NullString
			isValid    int
		)
		err := rows.Scan(&m.ID, &state, &docJSON, &m.GeneratedBy, &m.GenerationPrompt, &isValid, &issuesJSON,
			&m.ReviewedBy, &m.ReviewDate, &m.ReviewNotes, &m.TransmittedAt, &m.TransmissionAttempts,
			&m.LastTransmissionErr, &m.ExternalID, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, storageErr("scan monster", err)
		}
		m.State = domain.State(state)
		m.IsValid = isValid != 0
		if docJSON.Valid && docJSON.String != "" {
			if err := json.Unmarshal([]byte(docJSON.String), &m.Doc); err != nil {
				return nil, storageErr("decode doc", err)
			}
		}
		if issuesJSON.Valid && issuesJSON.String != "" {
			if err := json.Unmarshal([]byte(issuesJSON.String), &m.ValidationIssues); err != nil {
				return nil, storageErr("decode issues", err)
			}
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountByState returns a count per lifecycle state, zero-filled so every
// state appears in the result.
func (r Repo) CountByState(ctx context.Context) (map[domain.State]int, error) {
	counts := make(map[domain.State]int, len(domain.States()))
	for _, s := range domain.States() {
		counts[s] = 0
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT state, COUNT(*) FROM monsters GROUP BY state`)
	if err != nil {
		return nil, storageErr("count by state", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, storageErr("scan count", err)
		}
		counts[domain.State(state)] = n
	}
	return counts, rows.Err()
}

// Delete removes the monster; card, skills and transitions cascade.
func (r Repo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM monsters WHERE id=?`, id)
	if err != nil {
		return storageErr("delete monster", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalDoc(doc domain.Document) (any, error) {
	if doc == nil {
		return nil, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalIssues(issues []domain.Issue) (any, error) {
	if len(issues) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(issues)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
