package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"monsterline/internal/domain"
	"monsterline/internal/repo"
	"monsterline/internal/state"
	"monsterline/internal/validate"
)

// Engine orchestrates the monster lifecycle: ingestion of generated
// documents, structuring, review decisions and corrections. State changes
// and their audit records are written atomically per operation.
type Engine struct {
	DB   *sql.DB
	Repo repo.Repo
	Log  *slog.Logger
	Now  func() time.Time
}

func New(db *sql.DB, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return Engine{
		DB:   db,
		Repo: repo.Repo{DB: db},
		Log:  log,
		Now:  time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// IngestOptions are parameters for ingesting a generated monster document.
type IngestOptions struct {
	ID               string
	Doc              domain.Document
	GeneratedBy      string
	GenerationPrompt string
}

// IngestGenerated registers a freshly generated document. A valid document
// enters GENERATED and advances immediately to PENDING_REVIEW, picking up
// its structured card on the way. An invalid document is stored in
// DEFECTIVE with its validation issues so an admin can correct it later.
func (e Engine) IngestGenerated(ctx context.Context, opts IngestOptions) (*domain.Monster, error) {
	if opts.Doc == nil {
		return nil, &domain.ValidationError{Issues: []domain.Issue{{
			Field: "doc", Kind: validate.KindMissingField, Message: "document is required",
		}}}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now().UTC()
	ts := now.Format(time.RFC3339)
	res := validate.Document(opts.Doc)

	m := &domain.Monster{
		ID:               id,
		Doc:              opts.Doc,
		GeneratedBy:      opts.GeneratedBy,
		GenerationPrompt: opts.GenerationPrompt,
		IsValid:          res.Valid,
		ValidationIssues: res.Issues,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}

	if !res.Valid {
		m.State = domain.StateDefective
		m.History = []domain.Transition{{
			MonsterID: id,
			ToState:   domain.StateDefective,
			Timestamp: ts,
			Actor:     domain.ActorSystem,
		}}
		if err := e.Repo.Save(ctx, m); err != nil {
			return nil, err
		}
		e.Log.Info("monster ingested as defective", "id", id, "issues", len(res.Issues))
		return m, nil
	}

	m.State = domain.StateGenerated
	m.History = []domain.Transition{{
		MonsterID: id,
		ToState:   domain.StateGenerated,
		Timestamp: ts,
		Actor:     domain.ActorSystem,
	}}
	if err := e.structure(m); err != nil {
		return nil, err
	}
	if err := state.Apply(m, domain.StatePendingReview, domain.ActorSystem, "auto-advance after generation", now); err != nil {
		return nil, err
	}
	if err := e.Repo.Save(ctx, m); err != nil {
		return nil, err
	}
	e.Log.Info("monster ingested", "id", id, "name", m.DisplayName(), "state", m.State)
	return m, nil
}

// structure converts the raw document into the structured card and clears
// the document. Runs exactly once per monster, at the PENDING_REVIEW
// boundary.
func (e Engine) structure(m *domain.Monster) error {
	if m.Structured() {
		return fmt.Errorf("monster %s is already structured", m.ID)
	}
	card, err := domain.CardFromDocument(m.Doc)
	if err != nil {
		return fmt.Errorf("structure monster %s: %w", m.ID, err)
	}
	m.Card = card
	m.Doc = nil
	return nil
}

// ReviewOptions are parameters for a review decision. Doc, when set, is a
// corrected document applied as part of the decision.
type ReviewOptions struct {
	ID       string
	Approve  bool
	Reviewer string
	Notes    string
	Doc      domain.Document
}

// Review records an admin decision on a monster awaiting review. Approval
// moves it to APPROVED, rejection to REJECTED; either way the reviewer and
// decision time are stamped on the record. A corrected document supplied with
// the decision must validate cleanly and replaces the card before the
// transition.
func (e Engine) Review(ctx context.Context, opts ReviewOptions) (*domain.Monster, error) {
	if opts.Reviewer == "" {
		return nil, &domain.ValidationError{Issues: []domain.Issue{{
			Field: "reviewer", Kind: validate.KindMissingField, Message: "reviewer is required",
		}}}
	}
	m, err := e.Repo.Get(ctx, opts.ID)
	if err != nil {
		return nil, err
	}
	if m.State != domain.StatePendingReview {
		return nil, &domain.WorkflowStateError{
			MonsterID: m.ID, State: m.State,
			Expected: []domain.State{domain.StatePendingReview}, Op: "review",
		}
	}
	if opts.Doc != nil {
		res := validate.Document(opts.Doc)
		if !res.Valid {
			return nil, &domain.ValidationError{Issues: res.Issues}
		}
		card, err := domain.CardFromDocument(opts.Doc)
		if err != nil {
			return nil, fmt.Errorf("apply corrected document to %s: %w", m.ID, err)
		}
		m.Card = card
		m.Doc = nil
	}
	now := e.now().UTC()
	ts := now.Format(time.RFC3339)
	target := domain.StateApproved
	if !opts.Approve {
		target = domain.StateRejected
	}
	if err := state.Apply(m, target, domain.ActorAdmin, opts.Notes, now); err != nil {
		return nil, err
	}
	m.ReviewedBy = &opts.Reviewer
	m.ReviewDate = &ts
	if opts.Notes != "" {
		m.ReviewNotes = &opts.Notes
	}
	if err := e.Repo.Save(ctx, m); err != nil {
		return nil, err
	}
	e.Log.Info("monster reviewed", "id", m.ID, "decision", string(target), "reviewer", opts.Reviewer)
	return m, nil
}

// Reopen rolls an approved monster back to PENDING_REVIEW for another pass.
// Previous review metadata is kept until the next decision overwrites it.
func (e Engine) Reopen(ctx context.Context, id, actor, note string) (*domain.Monster, error) {
	m, err := e.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.State != domain.StateApproved {
		return nil, &domain.WorkflowStateError{
			MonsterID: m.ID, State: m.State,
			Expected: []domain.State{domain.StateApproved}, Op: "reopen",
		}
	}
	if actor == "" {
		actor = domain.ActorAdmin
	}
	if err := state.Apply(m, domain.StatePendingReview, actor, note, e.now().UTC()); err != nil {
		return nil, err
	}
	if err := e.Repo.Save(ctx, m); err != nil {
		return nil, err
	}
	e.Log.Info("monster reopened for review", "id", m.ID)
	return m, nil
}

// CorrectOptions are parameters for correcting a defective monster.
type CorrectOptions struct {
	ID    string
	Doc   domain.Document
	Actor string
}

// Correct replaces a defective monster's document with a corrected one. The
// replacement must validate cleanly; the monster then passes through
// CORRECTED and lands in PENDING_REVIEW, structured, in one atomic step.
func (e Engine) Correct(ctx context.Context, opts CorrectOptions) (*domain.Monster, error) {
	if opts.Doc == nil {
		return nil, &domain.ValidationError{Issues: []domain.Issue{{
			Field: "doc", Kind: validate.KindMissingField, Message: "corrected document is required",
		}}}
	}
	m, err := e.Repo.Get(ctx, opts.ID)
	if err != nil {
		return nil, err
	}
	if m.State != domain.StateDefective {
		return nil, &domain.WorkflowStateError{
			MonsterID: m.ID, State: m.State,
			Expected: []domain.State{domain.StateDefective}, Op: "correct",
		}
	}
	res := validate.Document(opts.Doc)
	if !res.Valid {
		return nil, &domain.ValidationError{Issues: res.Issues}
	}
	actor := opts.Actor
	if actor == "" {
		actor = domain.ActorAdmin
	}
	now := e.now().UTC()
	m.Doc = opts.Doc
	m.IsValid = true
	m.ValidationIssues = nil
	if err := state.Apply(m, domain.StateCorrected, actor, "document corrected", now); err != nil {
		return nil, err
	}
	if err := e.structure(m); err != nil {
		return nil, err
	}
	if err := state.Apply(m, domain.StatePendingReview, domain.ActorSystem, "auto-advance after correction", now); err != nil {
		return nil, err
	}
	if err := e.Repo.Save(ctx, m); err != nil {
		return nil, err
	}
	e.Log.Info("monster corrected", "id", m.ID, "name", m.DisplayName())
	return m, nil
}

// ProcessGenerated sweeps monsters stuck in GENERATED and advances the valid
// ones to PENDING_REVIEW. Returns how many were advanced.
func (e Engine) ProcessGenerated(ctx context.Context) (int, error) {
	list, err := e.Repo.List(ctx, domain.StateGenerated, 0, 0)
	if err != nil {
		return 0, err
	}
	advanced := 0
	for i := range list {
		m, err := e.Repo.Get(ctx, list[i].ID)
		if err != nil {
			return advanced, err
		}
		if !m.IsValid {
			continue
		}
		now := e.now().UTC()
		if !m.Structured() {
			if err := e.structure(m); err != nil {
				return advanced, err
			}
		}
		if err := state.Apply(m, domain.StatePendingReview, domain.ActorSystem, "batch advance", now); err != nil {
			return advanced, err
		}
		if err := e.Repo.Save(ctx, m); err != nil {
			return advanced, err
		}
		advanced++
	}
	if advanced > 0 {
		e.Log.Info("generated monsters advanced", "count", advanced)
	}
	return advanced, nil
}

// CardUpdate holds editable card fields. Nil fields are left unchanged.
type CardUpdate struct {
	Name              *string
	CardDescription   *string
	VisualDescription *string
	ImageURL          *string
}

// UpdateCard edits structured card fields. Allowed while the monster is
// awaiting review or approved; transmitted and rejected monsters are frozen.
func (e Engine) UpdateCard(ctx context.Context, id string, upd CardUpdate) (*domain.Monster, error) {
	m, err := e.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.State != domain.StatePendingReview && m.State != domain.StateApproved {
		return nil, &domain.WorkflowStateError{
			MonsterID: m.ID, State: m.State,
			Expected: []domain.State{domain.StatePendingReview, domain.StateApproved}, Op: "update card",
		}
	}
	if !m.Structured() {
		return nil, fmt.Errorf("monster %s has no structured card", m.ID)
	}
	if upd.Name != nil {
		if *upd.Name == "" {
			return nil, &domain.ValidationError{Issues: []domain.Issue{{
				Field: "name", Kind: validate.KindMissingField, Message: "name cannot be empty",
			}}}
		}
		m.Card.Name = *upd.Name
	}
	if upd.CardDescription != nil {
		if len(*upd.CardDescription) > validate.MaxCardDescriptionLen {
			return nil, &domain.ValidationError{Issues: []domain.Issue{{
				Field: "cardDescription", Kind: validate.KindOutOfRange,
				Message: fmt.Sprintf("description too long, max %d", validate.MaxCardDescriptionLen),
			}}}
		}
		m.Card.CardDescription = *upd.CardDescription
	}
	if upd.VisualDescription != nil {
		m.Card.VisualDescription = *upd.VisualDescription
	}
	if upd.ImageURL != nil {
		m.Card.ImageURL = *upd.ImageURL
	}
	m.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.Save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns a monster with card and history loaded.
func (e Engine) Get(ctx context.Context, id string) (*domain.Monster, error) {
	return e.Repo.Get(ctx, id)
}

// List returns monsters, optionally filtered by state.
func (e Engine) List(ctx context.Context, st domain.State, limit, offset int) ([]domain.Monster, error) {
	if st != "" && !domain.ValidState(st) {
		return nil, &domain.ValidationError{Issues: []domain.Issue{{
			Field: "state", Kind: validate.KindEnumInvalid,
			Message: fmt.Sprintf("unknown state %q", st),
		}}}
	}
	return e.Repo.List(ctx, st, limit, offset)
}

// History returns a monster's transition records oldest first.
func (e Engine) History(ctx context.Context, id string) ([]domain.Transition, error) {
	if _, err := e.Repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.Repo.ListTransitions(ctx, id)
}

// Delete removes a monster and everything attached to it.
func (e Engine) Delete(ctx context.Context, id string) error {
	if err := e.Repo.Delete(ctx, id); err != nil {
		return err
	}
	e.Log.Info("monster deleted", "id", id)
	return nil
}

// IsNotFound reports whether err is the repository's missing-entity error.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
