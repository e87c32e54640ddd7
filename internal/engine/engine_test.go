package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"monsterline/internal/db"
	"monsterline/internal/domain"
	"monsterline/internal/engine"
	"monsterline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func emberDoc() domain.Document {
	return domain.Document{
		"name":    "Ember",
		"element": "FIRE",
		"rank":    "RARE",
		"stats": map[string]any{
			"hp":  float64(420),
			"atk": float64(88),
			"def": float64(54),
			"vit": float64(61),
		},
		"skills": []any{
			map[string]any{
				"name":     "Flame Bite",
				"damage":   float64(120),
				"cooldown": float64(3),
				"lvlMax":   float64(40),
				"rank":     "RARE",
				"ratio":    map[string]any{"stat": "ATK", "percent": 1.2},
			},
		},
	}
}

func ingestValid(t *testing.T, env testEnv) *domain.Monster {
	t.Helper()
	m, err := env.Engine.IngestGenerated(env.Ctx, engine.IngestOptions{
		Doc:              emberDoc(),
		GeneratedBy:      "gpt-test",
		GenerationPrompt: "a fire monster",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return m
}

func TestIngestValidDocumentAdvancesToPendingReview(t *testing.T) {
	env := newTestEnv(t)
	m := ingestValid(t, env)
	if m.State != domain.StatePendingReview {
		t.Fatalf("expected PENDING_REVIEW, got %s", m.State)
	}
	if m.Doc != nil {
		t.Fatalf("document should be cleared after structuring")
	}
	if m.Card == nil || m.Card.Name != "Ember" || len(m.Card.Skills) != 1 {
		t.Fatalf("unexpected card: %+v", m.Card)
	}
	got, err := env.Engine.Get(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != 2 {
		t.Fatalf("expected 2 history records, got %+v", got.History)
	}
	if got.History[0].FromState != nil || got.History[0].ToState != domain.StateGenerated {
		t.Errorf("unexpected first record: %+v", got.History[0])
	}
	if got.History[1].FromState == nil || *got.History[1].FromState != domain.StateGenerated ||
		got.History[1].ToState != domain.StatePendingReview {
		t.Errorf("unexpected second record: %+v", got.History[1])
	}
	if got.History[1].Actor != domain.ActorSystem {
		t.Errorf("auto-advance should be recorded as system, got %s", got.History[1].Actor)
	}
}

func TestIngestInvalidDocumentGoesDefective(t *testing.T) {
	env := newTestEnv(t)
	doc := emberDoc()
	doc["element"] = "PLASMA"
	m, err := env.Engine.IngestGenerated(env.Ctx, engine.IngestOptions{Doc: doc, GeneratedBy: "gpt-test"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if m.State != domain.StateDefective {
		t.Fatalf("expected DEFECTIVE, got %s", m.State)
	}
	if m.IsValid {
		t.Fatal("monster should be flagged invalid")
	}
	if len(m.ValidationIssues) != 1 || m.ValidationIssues[0].Field != "element" {
		t.Fatalf("unexpected issues: %+v", m.ValidationIssues)
	}
	if m.Card != nil {
		t.Fatal("defective monster must keep the raw document, not a card")
	}
	got, err := env.Engine.Get(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != 1 || got.History[0].ToState != domain.StateDefective {
		t.Fatalf("unexpected history: %+v", got.History)
	}
}

func TestCorrectDefectiveMonster(t *testing.T) {
	env := newTestEnv(t)
	doc := emberDoc()
	doc["element"] = "PLASMA"
	m, err := env.Engine.IngestGenerated(env.Ctx, engine.IngestOptions{Doc: doc})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	fixed := emberDoc()
	corrected, err := env.Engine.Correct(env.Ctx, engine.CorrectOptions{ID: m.ID, Doc: fixed, Actor: "alice"})
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if corrected.State != domain.StatePendingReview {
		t.Fatalf("expected PENDING_REVIEW after correction, got %s", corrected.State)
	}
	if !corrected.IsValid || corrected.ValidationIssues != nil {
		t.Fatalf("correction should clear issues: %+v", corrected.ValidationIssues)
	}
	if corrected.Card == nil || corrected.Doc != nil {
		t.Fatal("correction should structure the monster")
	}
	got, _ := env.Engine.Get(env.Ctx, m.ID)
	var states []domain.State
	for _, tr := range got.History {
		states = append(states, tr.ToState)
	}
	want := []domain.State{domain.StateDefective, domain.StateCorrected, domain.StatePendingReview}
	if len(states) != len(want) {
		t.Fatalf("unexpected history: %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, states[i], want[i])
		}
	}
	if got.History[1].Actor != "alice" || got.History[2].Actor != domain.ActorSystem {
		t.Fatalf("unexpected actors: %+v", got.History)
	}
}

func TestCorrectRejectsInvalidReplacement(t *testing.T) {
	env := newTestEnv(t)
	doc := emberDoc()
	delete(doc, "name")
	m, _ := env.Engine.IngestGenerated(env.Ctx, engine.IngestOptions{Doc: doc})

	stillBad := emberDoc()
	stillBad["stats"].(map[string]any)["hp"] = float64(5000)
	_, err := env.Engine.Correct(env.Ctx, engine.CorrectOptions{ID: m.ID, Doc: stillBad})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got, _ := env.Engine.Get(env.Ctx, m.ID)
	if got.State != domain.StateDefective {
		t.Fatalf("failed correction must leave monster DEFECTIVE, got %s", got.State)
	}
}

func TestCorrectRequiresDefectiveState(t *testing.T) {
	env := newTestEnv(t)
	m := ingestValid(t, env)
	_, err := env.Engine.Correct(env.Ctx, engine.CorrectOptions{ID: m.ID, Doc: emberDoc()})
	var werr *domain.WorkflowStateError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WorkflowStateError, got %v", err)
	}
	if werr.State != domain.StatePendingReview {
		t.Fatalf("unexpected state in error: %+v", werr)
	}
}

func TestReviewApprove(t *testing.T) {
	env := newTestEnv(t)
	m := ingestValid(t, env)
	reviewed, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		ID: m.ID, Approve: true, Reviewer: "alice", Notes: "looks good",
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.State != domain.StateApproved {
		t.Fatalf("expected APPROVED, got %s", reviewed.State)
	}
	if reviewed.ReviewedBy == nil || *reviewed.ReviewedBy != "alice" {
		t.Fatalf("reviewer not stamped: %+v", reviewed.ReviewedBy)
	}
	if reviewed.ReviewDate == nil || *reviewed.ReviewDate != "2024-01-01T00:00:00Z" {
		t.Fatalf("review date not stamped: %+v", reviewed.ReviewDate)
	}
	if reviewed.ReviewNotes == nil || *reviewed.ReviewNotes != "looks good" {
		t.Fatalf("notes not stamped: %+v", reviewed.ReviewNotes)
	}
}

func TestReviewReject(t *testing.T) {
	env := newTestEnv(t)
	m := ingestValid(t, env)
	reviewed, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{ID: m.ID, Reviewer: "alice"})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.State != domain.StateRejected {
		t.Fatalf("expected REJECTED, got %s", reviewed.State)
	}
	// rejected is terminal
	_, err = env.Engine.Review(env.Ctx, engine.ReviewOptions{ID: m.ID, Approve: true, Reviewer: "bob"})
	var werr *domain.WorkflowStateError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WorkflowStateError on re-review, got %v", err)
	}
}

func TestReopenApprovedMonster(t *testing.T) {
	env := newTestEnv(t)
	m := ingestValid(t, env)
	if _, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{ID: m.ID, Approve: true, Reviewer: "alice"}); err != nil {
		t.Fatalf("review: %v", err)
	}
	reopened, err := env.Engine.Reopen(env.Ctx, m.ID, "bob", "second look")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.State != domain.StatePendingReview {
		t.Fatalf("expected PENDING_REVIEW, got %s", reopened.State)
	}
	if reopened.ReviewedBy == nil || *reopened.ReviewedBy != "alice" {
		t.Fatal("reopen must keep previous review metadata")
	}
	_, err = env.Engine.Reopen(env.Ctx, m.ID, "bob", "")
	var werr *domain.WorkflowStateError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WorkflowStateError on double reopen, got %v", err)
	}
}

func TestUpdateCard(t *testing.T) {
	env := newTestEnv(t)
	m := ingestValid(t, env)
	name := "Ember Prime"
	desc := "A smoldering menace."
	updated, err := env.Engine.UpdateCard(env.Ctx, m.ID, engine.CardUpdate{Name: &name, CardDescription: &desc})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Card.Name != "Ember Prime" || updated.Card.CardDescription != desc {
		t.Fatalf("unexpected card: %+v", updated.Card)
	}
	// frozen after rejection
	if _, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{ID: m.ID, Reviewer: "alice"}); err != nil {
		t.Fatalf("review: %v", err)
	}
	_, err = env.Engine.UpdateCard(env.Ctx, m.ID, engine.CardUpdate{Name: &name})
	var werr *domain.WorkflowStateError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WorkflowStateError, got %v", err)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	approved := ingestValid(t, env)
	if _, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{ID: approved.ID, Approve: true, Reviewer: "alice"}); err != nil {
		t.Fatalf("review: %v", err)
	}
	ingestValid(t, env)
	bad := emberDoc()
	bad["element"] = "PLASMA"
	if _, err := env.Engine.IngestGenerated(env.Ctx, engine.IngestOptions{Doc: bad}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	stats, err := env.Engine.Stats(env.Ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByState[domain.StateApproved] != 1 || stats.ByState[domain.StatePendingReview] != 1 ||
		stats.ByState[domain.StateDefective] != 1 {
		t.Errorf("unexpected counts: %v", stats.ByState)
	}
	if stats.ByState[domain.StateTransmitted] != 0 {
		t.Errorf("transmitted should be zero-filled, got %d", stats.ByState[domain.StateTransmitted])
	}
	if stats.TransmissionRate != 0 {
		t.Errorf("nothing transmitted yet, rate = %v", stats.TransmissionRate)
	}
	if len(stats.RecentActivity) == 0 {
		t.Error("expected recent activity entries")
	}
}

func TestStatsTransmissionRate(t *testing.T) {
	env := newTestEnv(t)
	sent := &domain.Monster{
		ID:        "mon-sent",
		State:     domain.StateTransmitted,
		Card:      &domain.Card{Name: "Ember", Element: "FIRE", Rank: "RARE", HP: 420, ATK: 88, DEF: 54, VIT: 61},
		IsValid:   true,
		CreatedAt: "2024-01-01T00:00:00Z",
		UpdatedAt: "2024-01-01T00:00:00Z",
	}
	if err := env.Engine.Repo.Save(env.Ctx, sent); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 3; i++ {
		bad := emberDoc()
		bad["element"] = "PLASMA"
		if _, err := env.Engine.IngestGenerated(env.Ctx, engine.IngestOptions{Doc: bad}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	stats, err := env.Engine.Stats(env.Ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 {
		t.Fatalf("total = %d, want 4", stats.Total)
	}
	if stats.TransmissionRate != 0.25 {
		t.Errorf("rate = %v, want 0.25 (transmitted over total)", stats.TransmissionRate)
	}
}

func TestReviewWithCorrectedDocument(t *testing.T) {
	env := newTestEnv(t)
	m := ingestValid(t, env)

	doc := emberDoc()
	doc["name"] = "Cinder"
	doc["stats"].(map[string]any)["hp"] = float64(600)
	got, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		ID: m.ID, Approve: true, Reviewer: "alice", Doc: doc,
	})
	if err != nil {
		t.Fatalf("review with document: %v", err)
	}
	if got.State != domain.StateApproved {
		t.Fatalf("expected APPROVED, got %s", got.State)
	}
	if got.Card == nil || got.Card.Name != "Cinder" || got.Card.HP != 600 {
		t.Fatalf("corrected document not applied: %+v", got.Card)
	}
	if got.Doc != nil {
		t.Fatalf("raw document should stay cleared")
	}
}

func TestReviewRejectsInvalidCorrectedDocument(t *testing.T) {
	env := newTestEnv(t)
	m := ingestValid(t, env)

	doc := emberDoc()
	doc["element"] = "PLASMA"
	_, err := env.Engine.Review(env.Ctx, engine.ReviewOptions{
		ID: m.ID, Approve: true, Reviewer: "alice", Doc: doc,
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, err := env.Engine.Get(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.StatePendingReview || got.Card.Name != "Ember" {
		t.Fatalf("failed review must not change the monster: state=%s card=%+v", got.State, got.Card)
	}
}

func TestWorkflowStateErrorNamesExpectedState(t *testing.T) {
	env := newTestEnv(t)
	m := ingestValid(t, env)
	_, err := env.Engine.Correct(env.Ctx, engine.CorrectOptions{ID: m.ID, Doc: emberDoc()})
	var werr *domain.WorkflowStateError
	if !errors.As(err, &werr) {
		t.Fatalf("expected workflow state error, got %v", err)
	}
	msg := werr.Error()
	if !strings.Contains(msg, "PENDING_REVIEW") || !strings.Contains(msg, "expected DEFECTIVE") {
		t.Fatalf("message should name actual and expected state, got %q", msg)
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	m := ingestValid(t, env)
	if err := env.Engine.Delete(env.Ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Get(env.Ctx, m.ID); !engine.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessGenerated(t *testing.T) {
	env := newTestEnv(t)
	// a monster parked in GENERATED, as if auto-advance had been deferred
	m := &domain.Monster{
		ID:        "mon-stuck",
		State:     domain.StateGenerated,
		Doc:       emberDoc(),
		IsValid:   true,
		CreatedAt: "2024-01-01T00:00:00Z",
		UpdatedAt: "2024-01-01T00:00:00Z",
		History: []domain.Transition{{
			MonsterID: "mon-stuck", ToState: domain.StateGenerated,
			Timestamp: "2024-01-01T00:00:00Z", Actor: domain.ActorSystem,
		}},
	}
	if err := env.Engine.Repo.Save(env.Ctx, m); err != nil {
		t.Fatalf("seed: %v", err)
	}
	n, err := env.Engine.ProcessGenerated(env.Ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Fatalf("advanced = %d, want 1", n)
	}
	got, err := env.Engine.Get(env.Ctx, "mon-stuck")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.StatePendingReview || got.Card == nil || got.Doc != nil {
		t.Fatalf("unexpected monster after sweep: state=%s card=%v doc=%v", got.State, got.Card, got.Doc)
	}
}
