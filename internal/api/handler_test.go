package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/moltmud/internal/catalog"
	"github.com/nidhogg/moltmud/internal/economy"
	"github.com/nidhogg/moltmud/internal/events"
	"github.com/nidhogg/moltmud/internal/fragment"
	"github.com/nidhogg/moltmud/internal/freshness"
	"github.com/nidhogg/moltmud/internal/store/memstore"
	"github.com/nidhogg/moltmud/internal/sweeper"
	"go.uber.org/zap"
)

type testEnv struct {
	ts    *httptest.Server
	store *memstore.Store
	sw    *sweeper.Sweeper
	feed  *events.Recorder
}

type recorderFeed struct{ *events.Recorder }

func (f recorderFeed) Recent(_ context.Context, count int64) ([]*events.Event, error) {
	evs := f.Events()
	if int64(len(evs)) > count {
		evs = evs[int64(len(evs))-count:]
	}
	return evs, nil
}

// newTestEnv wires the handler over memstore with no Postgres or Redis.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := memstore.New()
	rec := &events.Recorder{}

	fresh := freshness.NewEngine(store, freshness.Config{}, logger)
	svc := economy.NewService(store, fresh, rec, economy.Config{Seed: 1}, logger)
	sw := sweeper.New(fresh, sweeper.Config{}, rec, logger)

	h := NewHandler(svc, fresh, sw, recorderFeed{rec}, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: store, sw: sw, feed: rec}
}

func (e *testEnv) seedFragment(id, owner string, value int) {
	now := time.Now().UTC()
	e.store.PutFragment(&fragment.Fragment{
		ID:               id,
		OwnerID:          owner,
		RoomID:           "archive",
		Content:          "the keeper's log",
		Topics:           []string{},
		Category:         catalog.Scientific,
		Rarity:           catalog.Rare,
		BaseValue:        1,
		CurrentValue:     value,
		FreshnessScore:   1,
		DecayRatePerHour: fragment.DefaultDecayRate,
		LastDecayCheck:   now,
		CreatedAt:        now,
	})
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, agent string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, ts.URL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if agent != "" {
		req.Header.Set(AgentHeader, agent)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["error"] != code {
		t.Errorf("error code = %q, want %q", body["error"], code)
	}
	if body["message"] == "" {
		t.Error("missing error message")
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	resp := getJSON(t, env.ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}

	env.sw.Stop(context.Background())
	resp = getJSON(t, env.ts, "/api/health")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("stopped sweeper: expected 503, got %d", resp.StatusCode)
	}
}

func TestCatalogRoutes(t *testing.T) {
	env := newTestEnv(t)

	var cats []catalog.CategorySpec
	decodeJSON(t, getJSON(t, env.ts, "/api/catalog/categories"), &cats)
	if len(cats) != 5 || cats[0].Key != catalog.Historical {
		t.Errorf("categories = %+v", cats)
	}

	var rars []catalog.RaritySpec
	decodeJSON(t, getJSON(t, env.ts, "/api/catalog/rarities"), &rars)
	if len(rars) != 5 || rars[4].Key != catalog.Legendary {
		t.Errorf("rarities = %+v", rars)
	}
}

func TestShareAndListFragments(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutAgent("ash", 10)

	resp := doJSON(t, env.ts, "POST", "/api/rooms/archive/fragments", "ash", map[string]interface{}{
		"content":  "Salt preserves iron poorly",
		"topics":   []string{"metallurgy"},
		"category": "technical",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("share: expected 201, got %d", resp.StatusCode)
	}
	var created map[string]interface{}
	decodeJSON(t, resp, &created)
	if created["category"] != string(catalog.Technical) || created["room_id"] != "archive" || created["owner_id"] != "ash" {
		t.Errorf("created = %v", created)
	}
	if created["label"] == "" || created["freshness_state"] != string(freshness.StateFresh) {
		t.Errorf("display fields missing: %v", created)
	}

	var listed []map[string]interface{}
	decodeJSON(t, getJSON(t, env.ts, "/api/rooms/archive/fragments?limit=10"), &listed)
	if len(listed) != 1 || listed[0]["id"] != created["id"] {
		t.Errorf("listed = %v", listed)
	}

	resp = getJSON(t, env.ts, "/api/rooms/archive/fragments?limit=abc")
	expectError(t, resp, http.StatusBadRequest, "bad_request")
}

func TestShareValidation(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutAgent("ash", 10)

	resp := doJSON(t, env.ts, "POST", "/api/rooms/archive/fragments", "", map[string]string{"content": "x"})
	expectError(t, resp, http.StatusBadRequest, "bad_request")

	resp = doJSON(t, env.ts, "POST", "/api/rooms/archive/fragments", "ash", map[string]string{"content": "  "})
	expectError(t, resp, http.StatusUnprocessableEntity, "empty_content")

	resp = doJSON(t, env.ts, "POST", "/api/rooms/archive/fragments", "ghost", map[string]string{"content": "x"})
	expectError(t, resp, http.StatusNotFound, "agent_not_found")
}

func TestPurchaseFlow(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutAgent("ash", 0)
	env.store.PutAgent("bram", 10)
	env.store.PutAgent("cole", 2)
	env.seedFragment("f1", "ash", 5)

	resp := doJSON(t, env.ts, "POST", "/api/fragments/f1/purchase", "bram", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("purchase: expected 200, got %d", resp.StatusCode)
	}
	var rec economy.Receipt
	decodeJSON(t, resp, &rec)
	if rec.Charged != 5 || rec.BuyerBalance != 5 {
		t.Errorf("receipt = %+v", rec)
	}

	var bal fragment.Balance
	decodeJSON(t, getJSON(t, env.ts, "/api/agents/ash/balance"), &bal)
	if bal.Influence != 5 || bal.InfluenceEarned != 5 {
		t.Errorf("seller balance = %+v", bal)
	}

	expectError(t, doJSON(t, env.ts, "POST", "/api/fragments/f1/purchase", "ash", nil),
		http.StatusConflict, "self_purchase")
	expectError(t, doJSON(t, env.ts, "POST", "/api/fragments/f1/purchase", "cole", nil),
		http.StatusPaymentRequired, "insufficient_funds")
	expectError(t, doJSON(t, env.ts, "POST", "/api/fragments/nope/purchase", "bram", nil),
		http.StatusNotFound, "fragment_not_found")
	expectError(t, doJSON(t, env.ts, "POST", "/api/fragments/f1/purchase", "", nil),
		http.StatusBadRequest, "bad_request")

	// Rating
	expectError(t, doJSON(t, env.ts, "POST", "/api/fragments/f1/rating", "bram", map[string]int{"rating": 9}),
		http.StatusUnprocessableEntity, "invalid_rating")
	resp = doJSON(t, env.ts, "POST", "/api/fragments/f1/rating", "bram", map[string]int{"rating": 5})
	if resp.StatusCode != 200 {
		t.Fatalf("rate: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	expectError(t, doJSON(t, env.ts, "POST", "/api/fragments/f1/rating", "bram", map[string]int{"rating": 5}),
		http.StatusConflict, "no_eligible_purchase")

	var view map[string]interface{}
	decodeJSON(t, getJSON(t, env.ts, "/api/fragments/f1"), &view)
	if view["purchase_count"] != float64(1) || view["average_rating"] != float64(5) {
		t.Errorf("fragment view = %v", view)
	}

	var ps []fragment.Purchase
	decodeJSON(t, getJSON(t, env.ts, "/api/agents/bram/purchases"), &ps)
	if len(ps) != 1 || ps[0].Rating == nil || *ps[0].Rating != 5 {
		t.Errorf("purchases = %+v", ps)
	}

	var evs []events.Event
	decodeJSON(t, getJSON(t, env.ts, "/api/events?count=2"), &evs)
	if len(evs) != 2 || evs[0].Type != events.FragmentPurchased || evs[1].Type != events.FragmentRated {
		t.Errorf("recent events = %+v", evs)
	}
}

func TestRegisterAgent(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, env.ts, "POST", "/api/agents", "", map[string]string{"id": "dara", "name": "Dara"})
	if resp.StatusCode != 201 {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	var bal fragment.Balance
	decodeJSON(t, resp, &bal)
	if bal.AgentID != "dara" || bal.Influence != 10 {
		t.Errorf("balance = %+v", bal)
	}

	expectError(t, doJSON(t, env.ts, "POST", "/api/agents", "", map[string]string{"name": "nobody"}),
		http.StatusBadRequest, "bad_request")
	expectError(t, getJSON(t, env.ts, "/api/agents/ghost/balance"), http.StatusNotFound, "agent_not_found")
}

func TestFreshnessRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.seedFragment("fresh", "ash", 1)
	env.store.PutFragment(&fragment.Fragment{
		ID: "old", OwnerID: "ash", RoomID: "archive", Content: "x",
		Category: catalog.Historical, Rarity: catalog.Common,
		FreshnessScore: 0.1, DecayRatePerHour: 0.05,
		LastDecayCheck: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	})

	var stale []map[string]interface{}
	decodeJSON(t, getJSON(t, env.ts, "/api/fragments/stale?threshold=0.3"), &stale)
	if len(stale) != 1 || stale[0]["id"] != "old" {
		t.Errorf("stale = %v", stale)
	}
	expectError(t, getJSON(t, env.ts, "/api/fragments/stale?threshold=x"), http.StatusBadRequest, "bad_request")

	var st fragment.Stats
	decodeJSON(t, getJSON(t, env.ts, "/api/freshness/stats"), &st)
	if st.Total != 2 || st.Fresh != 1 || st.Decayed != 1 {
		t.Errorf("stats = %+v", st)
	}

	resp := doJSON(t, env.ts, "POST", "/api/sweeps", "", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("sweep: expected 200, got %d", resp.StatusCode)
	}
	var res freshness.BatchResult
	decodeJSON(t, resp, &res)
	if res.Updated != 2 {
		t.Errorf("sweep updated %d, want 2", res.Updated)
	}
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	rec := httptest.NewRecorder()
	h := &Handler{logger: zap.NewNop()}
	h.fail(rec, errors.New("pq: connection refused"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "internal" || body["message"] != "internal error" {
		t.Errorf("body = %v", body)
	}
}

func TestActions(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutAgent("ada", 10)
	env.store.PutAgent("bob", 10)
	env.seedFragment("frag-1", "bob", 2)

	type actionResult struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	act := func(agent, input string) actionResult {
		t.Helper()
		resp := doJSON(t, env.ts, "POST", "/api/actions", agent,
			map[string]string{"input": input, "room_id": "archive"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%q: status %d", input, resp.StatusCode)
		}
		var res actionResult
		decodeJSON(t, resp, &res)
		return res
	}

	if res := act("ada", "/look"); !res.Success || !strings.Contains(res.Message, "frag-1") {
		t.Errorf("look = %+v", res)
	}
	if res := act("ada", "/buy frag-1"); !res.Success {
		t.Fatalf("buy = %+v", res)
	}
	if a, _ := env.store.Agent("ada"); a.Influence != 8 {
		t.Errorf("ada influence = %d, want 8", a.Influence)
	}
	if res := act("bob", "/buy frag-1"); res.Success {
		t.Error("self purchase through /actions succeeded")
	}
	if res := act("ada", "/dance"); res.Success {
		t.Error("unknown action succeeded")
	}

	expectError(t, doJSON(t, env.ts, "POST", "/api/actions", "", map[string]string{"input": "/look"}),
		http.StatusBadRequest, "bad_request")
	expectError(t, doJSON(t, env.ts, "POST", "/api/actions", "ada", map[string]string{}),
		http.StatusBadRequest, "bad_request")
}
