package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"monsterline/internal/db"
	"monsterline/internal/engine"
	"monsterline/internal/migrate"
	"monsterline/internal/repo"
	"monsterline/internal/transmit"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, downstream string) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(conn, log)
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	var svc *transmit.Service
	if downstream != "" {
		svc = transmit.NewService(repo.Repo{DB: conn},
			transmit.NewClient(transmit.ClientConfig{BaseURL: downstream, APIKey: "test-key"}), log)
		svc.Sleep = func(context.Context, time.Duration) error { return nil }
	}

	handler, err := New(Config{Engine: e, Transmit: svc, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func emberDoc() map[string]any {
	return map[string]any{
		"name":              "Ember",
		"element":           "FIRE",
		"rank":              "RARE",
		"cardDescription":   "A smoldering imp that feeds on cinders.",
		"visualDescription": "Small horned creature wreathed in embers.",
		"stats":             map[string]any{"hp": 420, "atk": 88, "def": 54, "vit": 61},
		"skills": []any{
			map[string]any{
				"name":        "Flame Bite",
				"description": "A quick burning bite.",
				"damage":      70,
				"cooldown":    2,
				"lvlMax":      40,
				"rank":        "COMMON",
				"ratio":       map[string]any{"stat": "ATK", "percent": 1.2},
			},
		},
	}
}

func TestIngestReviewTransmitFlow(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"ext-7"}`)
	}))
	defer downstream.Close()

	srv, cleanup := newTestServer(t, downstream.URL)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/monsters", map[string]any{
		"doc":          emberDoc(),
		"generated_by": "gpt-4o-mini",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}
	var created MonsterResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal monster: %v", err)
	}
	if created.State != "PENDING_REVIEW" {
		t.Fatalf("expected PENDING_REVIEW, got %s", created.State)
	}
	if created.Card == nil || created.Doc != nil {
		t.Fatalf("expected structured card without raw doc")
	}

	corrected := emberDoc()
	corrected["name"] = "Cinder"
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/monsters/"+created.ID+"/review", map[string]any{
		"decision":           "approved",
		"reviewer":           "alice",
		"notes":              "looks good",
		"corrected_document": corrected,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}
	var reviewed MonsterResponse
	_ = json.Unmarshal(data, &reviewed)
	if reviewed.State != "APPROVED" || reviewed.ReviewedBy == nil || *reviewed.ReviewedBy != "alice" {
		t.Fatalf("unexpected review result: %s", string(data))
	}
	if reviewed.Name != "Cinder" {
		t.Fatalf("corrected document should replace the card, got name %q", reviewed.Name)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/monsters/"+created.ID+"/transmit", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transmit status %d: %s", res.StatusCode, string(data))
	}
	var sent MonsterResponse
	_ = json.Unmarshal(data, &sent)
	if sent.State != "TRANSMITTED" || sent.ExternalID == nil || *sent.ExternalID != "ext-7" {
		t.Fatalf("unexpected transmit result: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/monsters/"+created.ID+"/history", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var history []TransitionResponse
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 transitions, got %d: %s", len(history), string(data))
	}
	if history[0].FromState != nil || history[0].ToState != "GENERATED" {
		t.Fatalf("unexpected first transition: %+v", history[0])
	}
	if history[3].ToState != "TRANSMITTED" {
		t.Fatalf("unexpected last transition: %+v", history[3])
	}
}

func TestIngestInvalidThenCorrect(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	doc := emberDoc()
	doc["element"] = "PLASMA"
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/monsters", map[string]any{"doc": doc})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}
	var created MonsterResponse
	_ = json.Unmarshal(data, &created)
	if created.State != "DEFECTIVE" || len(created.ValidationIssues) != 1 {
		t.Fatalf("expected DEFECTIVE with one issue: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/monsters/"+created.ID+"/correct", map[string]any{
		"doc":   emberDoc(),
		"actor": "fixer",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("correct status %d: %s", res.StatusCode, string(data))
	}
	var corrected MonsterResponse
	_ = json.Unmarshal(data, &corrected)
	if corrected.State != "PENDING_REVIEW" || len(corrected.ValidationIssues) != 0 {
		t.Fatalf("unexpected corrected monster: %s", string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/monsters/no-such-id", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/monsters", map[string]any{
		"doc": emberDoc(),
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}
	var created MonsterResponse
	_ = json.Unmarshal(data, &created)

	// The monster is pending review; correcting it is a workflow conflict.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/monsters/"+created.ID+"/correct", map[string]any{
		"doc": emberDoc(),
	})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal conflict envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_workflow_state" {
		t.Fatalf("expected invalid_workflow_state, got %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/monsters/"+created.ID+"/review", map[string]any{
		"decision": "maybe",
		"reviewer": "alice",
	})
	if res.StatusCode != http.StatusBadRequest && res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected schema rejection, got %d: %s", res.StatusCode, string(data))
	}
}

func TestStatsAndValidationRules(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/monsters", map[string]any{"doc": emberDoc()}); res.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/stats", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, string(data))
	}
	var stats StatsResponse
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Total != 1 || stats.ByState["PENDING_REVIEW"] != 1 {
		t.Fatalf("unexpected stats: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/validation-rules", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validation-rules status %d: %s", res.StatusCode, string(data))
	}
	var rules struct {
		Elements []string                      `json:"elements"`
		Ranges   map[string]map[string]float64 `json:"ranges"`
	}
	if err := json.Unmarshal(data, &rules); err != nil {
		t.Fatalf("unmarshal rules: %v", err)
	}
	if len(rules.Elements) != 6 || rules.Ranges["stats.hp"]["max"] != 1000 {
		t.Fatalf("unexpected rules: %s", string(data))
	}
}

func TestDeleteMonster(t *testing.T) {
	srv, cleanup := newTestServer(t, "")
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/monsters", map[string]any{"doc": emberDoc()})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status %d: %s", res.StatusCode, string(data))
	}
	var created MonsterResponse
	_ = json.Unmarshal(data, &created)

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/monsters/"+created.ID, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/monsters/"+created.ID, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status %d", res.StatusCode)
	}
}
