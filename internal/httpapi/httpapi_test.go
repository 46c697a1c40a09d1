package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/app"
	"github.com/freeeve/openingtree/internal/config"
	"github.com/freeeve/openingtree/internal/eco"
	"github.com/freeeve/openingtree/internal/engine"
	"github.com/freeeve/openingtree/internal/position"
	"github.com/freeeve/openingtree/internal/quiz"
	"github.com/freeeve/openingtree/internal/store"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Data = config.DataConfig{
		TreeDir:          filepath.Join(dir, "tree"),
		SourcesDir:       filepath.Join(dir, "sources"),
		WhiteOpeningsDir: filepath.Join(dir, "openings", "white"),
		BlackOpeningsDir: filepath.Join(dir, "openings", "black"),
		WhiteGamesDir:    filepath.Join(dir, "games", "white"),
		BlackGamesDir:    filepath.Join(dir, "games", "black"),
		GamesDB:          filepath.Join(dir, "games.db"),
		BackupDir:        filepath.Join(dir, "backups"),
	}
	a, err := app.Open(context.Background(), cfg, zerolog.Nop(), app.Options{Games: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type stubScorer struct{}

func (stubScorer) Score(_ context.Context, _ string, depth int) (engine.Score, error) {
	return engine.Score{Eval: 0.2, Depth: depth}, nil
}

func TestHealthAndRequestID(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestApp(t))

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want propagated", got)
	}

	rec = do(t, h, http.MethodOptions, "/v1/position", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight = %d", rec.Code)
	}
}

func TestPositionAndAddMove(t *testing.T) {
	a := newTestApp(t)
	h := NewRouter(zerolog.Nop(), a)

	rec := do(t, h, http.MethodGet, "/v1/position", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("position = %d %s", rec.Code, rec.Body.String())
	}
	pos := decode[PositionResponse](t, rec)
	if pos.Known || pos.FEN != position.StartReduced || len(pos.LegalMoves) != 20 || !pos.WhiteToMove {
		t.Fatalf("start position = %+v", pos)
	}

	rec = do(t, h, http.MethodPost, "/v1/position/move", map[string]string{"san": "e4", "comment": "main line"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add move = %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	mv := decode[MoveResponse](t, rec)
	if mv.SAN != "e4" || mv.Source != "MANUAL_EXPLORATION" || mv.Comment != "main line" {
		t.Errorf("move = %+v", mv)
	}

	rec = do(t, h, http.MethodGet, "/v1/position?fen="+url.QueryEscape(position.StartReduced), nil)
	pos = decode[PositionResponse](t, rec)
	if !pos.Known || len(pos.Moves) != 1 || pos.Moves[0].SAN != "e4" || pos.Depth != -1 {
		t.Errorf("position after move = %+v", pos)
	}

	for _, tc := range []struct {
		name string
		body map[string]string
	}{
		{"illegal", map[string]string{"san": "e5"}},
		{"bad fen", map[string]string{"fen": "nonsense", "san": "e4"}},
		{"bad source", map[string]string{"san": "d4", "source": "RUMOUR"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/position/move", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d", rec.Code)
			}
		})
	}

	if rec := do(t, h, http.MethodGet, "/v1/position?fen=bogus", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad fen status = %d", rec.Code)
	}
}

func TestAnalyseQueue(t *testing.T) {
	a := newTestApp(t)
	h := NewRouter(zerolog.Nop(), a)

	if rec := do(t, h, http.MethodPost, "/v1/position/analyse", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("analyse without engine = %d", rec.Code)
	}

	if err := a.UseScorer(stubScorer{}); err != nil {
		t.Fatal(err)
	}
	h = NewRouter(zerolog.Nop(), a)
	rec := do(t, h, http.MethodPost, "/v1/position/analyse", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyse = %d %s", rec.Code, rec.Body.String())
	}
	got := decode[map[string]any](t, rec)
	if got["queued"] != true || got["queue_len"] != float64(1) {
		t.Errorf("analyse response = %v", got)
	}
}

func TestFindAndStats(t *testing.T) {
	a := newTestApp(t)
	h := NewRouter(zerolog.Nop(), a)

	if rec := do(t, h, http.MethodGet, "/v1/find", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("find on empty tree = %d", rec.Code)
	}
	do(t, h, http.MethodPost, "/v1/position/move", map[string]string{"san": "d4", "source": "BOOK"})

	rec := do(t, h, http.MethodGet, "/v1/find?min_source=BOOK", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("find = %d %s", rec.Code, rec.Body.String())
	}
	if pos := decode[PositionResponse](t, rec); pos.Source != "BOOK" {
		t.Errorf("found %+v", pos)
	}
	if rec := do(t, h, http.MethodGet, "/v1/find?max_depth=x", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad max_depth = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d", rec.Code)
	}
	stats := decode[map[string]any](t, rec)
	tree, ok := stats["tree"].(map[string]any)
	if !ok || tree["nodes"] != float64(2) || tree["moves"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}
}

func TestSave(t *testing.T) {
	a := newTestApp(t)
	h := NewRouter(zerolog.Nop(), a)
	do(t, h, http.MethodPost, "/v1/position/move", map[string]string{"san": "c4"})

	if rec := do(t, h, http.MethodPost, "/v1/save", nil); rec.Code != http.StatusOK {
		t.Fatalf("save = %d %s", rec.Code, rec.Body.String())
	}
	data, err := os.ReadFile(a.Tree.MovesPath())
	if err != nil {
		t.Fatalf("read moves file: %v", err)
	}
	if !strings.Contains(string(data), "c4") {
		t.Errorf("moves file = %q", data)
	}
}

func TestQuizEndpoints(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestApp(t))

	rec := do(t, h, http.MethodPost, "/v1/quiz", map[string]string{"color": "white"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start = %d %s", rec.Code, rec.Body.String())
	}
	started := decode[quizResponse](t, rec)
	if !started.State.PlayerWhite || !started.State.Running || started.State.ID == "" {
		t.Fatalf("started = %+v", started)
	}

	rec = do(t, h, http.MethodPost, "/v1/quiz/"+started.State.ID+"/move", map[string]string{"san": "e4"})
	if rec.Code != http.StatusOK {
		t.Fatalf("move = %d %s", rec.Code, rec.Body.String())
	}
	if played := decode[quizResponse](t, rec); played.Result.Verdict != "unknown" {
		t.Errorf("played = %+v", played)
	}

	rec = do(t, h, http.MethodGet, "/v1/quiz/"+started.State.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state = %d", rec.Code)
	}

	for _, tc := range []struct {
		method, target string
		body           any
		want           int
	}{
		{http.MethodGet, "/v1/quiz/missing", nil, http.StatusNotFound},
		{http.MethodPost, "/v1/quiz/missing/move", map[string]string{"san": "e4"}, http.StatusNotFound},
		{http.MethodPost, "/v1/quiz", map[string]string{"color": "green"}, http.StatusBadRequest},
		{http.MethodPost, "/v1/quiz/" + started.State.ID + "/move", map[string]string{"san": "Ke3"}, http.StatusBadRequest},
	} {
		if rec := do(t, h, tc.method, tc.target, tc.body); rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.target, rec.Code, tc.want)
		}
	}
}

func TestGamesAndPerformanceValidation(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestApp(t))

	rec := do(t, h, http.MethodGet, "/v1/games", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("games = %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"games":[]`) {
		t.Errorf("games body = %s", rec.Body.String())
	}

	for _, target := range []string{
		"/v1/performance",
		"/v1/performance?player=alice&day=yesterday",
		"/v1/performance?player=alice&time_control=glacial",
	} {
		if rec := do(t, h, http.MethodGet, target, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s = %d", target, rec.Code)
		}
	}

	rec = do(t, h, http.MethodGet, "/v1/performance?player=alice&day=2023-01-02", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("performance = %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[PerformanceResponse](t, rec); got.Games != 0 || got.Performance != "-Inf" {
		t.Errorf("performance without games = %+v, want -Inf", got)
	}
}

func TestGameLookup(t *testing.T) {
	a := newTestApp(t)
	h := NewRouter(zerolog.Nop(), a)
	doc := store.DocumentFromTags(map[string]string{"Site": "https://lichess.org/abc123", "UTCDate": "2023.01.02",
		"White": "alice", "Black": "bob", "Result": "1-0", "TimeControl": "180+2"}, []string{"e4", "e5", "Nf3"})
	if _, err := a.Games.InsertGames(context.Background(), []store.GameDocument{doc}); err != nil {
		t.Fatal(err)
	}
	afterE4, _, err := position.Start().Apply("e4")
	if err != nil {
		t.Fatal(err)
	}

	for _, exact := range []string{"", "&exact=true"} {
		rec := do(t, h, http.MethodGet, "/v1/games?fen="+url.QueryEscape(afterE4.FEN())+exact, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("games%s = %d %s", exact, rec.Code, rec.Body.String())
		}
		got := decode[struct {
			Games []store.GameDocument `json:"games"`
		}](t, rec)
		if len(got.Games) != 1 || got.Games[0].ID != "abc123" {
			t.Errorf("games%s = %+v", exact, got.Games)
		}
	}

	rec := do(t, h, http.MethodGet, "/v1/games/abc123", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("game = %d %s", rec.Code, rec.Body.String())
	}
	if g := decode[store.GameDocument](t, rec); g.White != "alice" || len(g.Moves) != 3 {
		t.Errorf("game = %+v", g)
	}
	if rec := do(t, h, http.MethodGet, "/v1/games/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing game = %d", rec.Code)
	}

	stats := decode[map[string]any](t, do(t, h, http.MethodGet, "/v1/stats", nil))
	if stats["games"] != float64(1) {
		t.Errorf("stats games = %v", stats["games"])
	}
}

func TestPerformanceResponseInfinity(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		perf float64
		want any
	}{
		{math.Inf(1), "+Inf"},
		{math.Inf(-1), "-Inf"},
		{1834.567, 1834.57},
	}
	for _, tt := range tests {
		got := toPerformanceResponse(store.GamePerformance{Performance: tt.perf, Start: day, End: day.Add(24 * time.Hour)})
		if got.Performance != tt.want {
			t.Errorf("performance(%v) = %v, want %v", tt.perf, got.Performance, tt.want)
		}
		if got.Start != "2024-03-01T00:00:00" {
			t.Errorf("start = %q", got.Start)
		}
	}
}

func TestOpeningNames(t *testing.T) {
	a := newTestApp(t)
	a.ECO = eco.NewDatabase()
	tsv := "eco\tname\tpgn\nC20\tKing's Pawn Game\t1. e4 e5\nC40\tKing's Knight Opening\t1. e4 e5 2. Nf3\n"
	if err := a.ECO.Load(strings.NewReader(tsv)); err != nil {
		t.Fatal(err)
	}
	h := NewRouter(zerolog.Nop(), a)

	pos := position.Start()
	for _, san := range []string{"e4", "e5"} {
		next, _, err := pos.Apply(san)
		if err != nil {
			t.Fatal(err)
		}
		pos = next
	}
	rec := do(t, h, http.MethodGet, "/v1/position?fen="+url.QueryEscape(pos.FEN()), nil)
	got := decode[PositionResponse](t, rec)
	if got.Opening == nil || got.Opening.ECO != "C20" {
		t.Errorf("opening = %+v", got.Opening)
	}

	handler := &Handler{app: a, log: zerolog.Nop()}
	resp := handler.newQuizResponse(quiz.State{Moves: []string{"e4", "e5", "Nf3", "Nc6"}}, quiz.Result{})
	if resp.Opening == nil || resp.Opening.ECO != "C40" {
		t.Errorf("quiz opening = %+v", resp.Opening)
	}
}
