// Package httpapi serves the opening tree explorer over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/app"
	"github.com/freeeve/openingtree/internal/eco"
	"github.com/freeeve/openingtree/internal/engine"
	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/perf"
	"github.com/freeeve/openingtree/internal/position"
	"github.com/freeeve/openingtree/internal/quiz"
	"github.com/freeeve/openingtree/internal/store"
)

// Handler serves requests against the application state.
type Handler struct {
	app *app.App
	log zerolog.Logger
}

// NewRouter creates the HTTP router. Positions without an evaluation are
// queued for analysis when the app has an analyser.
func NewRouter(log zerolog.Logger, a *app.App) http.Handler {
	h := &Handler{app: a, log: log}

	if a.Analyser != nil {
		log.Info().Msg("browse eval enabled - positions without evals will be queued")
	} else {
		log.Info().Msg("browse eval disabled - start with an engine to enable")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.HandleFunc("/readyz", h.health)
	mux.HandleFunc("GET /v1/position", h.position)
	mux.HandleFunc("POST /v1/position/move", h.addMove)
	mux.HandleFunc("POST /v1/position/analyse", h.analyse)
	mux.HandleFunc("GET /v1/find", h.find)
	mux.HandleFunc("GET /v1/stats", h.stats)
	mux.HandleFunc("POST /v1/save", h.save)
	mux.HandleFunc("POST /v1/quiz", h.startQuiz)
	mux.HandleFunc("GET /v1/quiz/{id}", h.quizState)
	mux.HandleFunc("POST /v1/quiz/{id}/move", h.quizMove)
	mux.HandleFunc("GET /v1/games", h.games)
	mux.HandleFunc("GET /v1/games/{id}", h.game)
	mux.HandleFunc("GET /v1/performance", h.performance)
	mux.Handle("/metrics", promhttp.Handler())

	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return CORS(RequestID(AccessLog(log, mux)))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// parsePosition reads the fen query parameter, defaulting to the start.
func parsePosition(r *http.Request) (*position.Position, error) {
	fen := r.URL.Query().Get("fen")
	if fen == "" {
		return position.Start(), nil
	}
	return position.FromFEN(fen)
}

func (h *Handler) position(w http.ResponseWriter, r *http.Request) {
	pos, err := parsePosition(r)
	if err != nil {
		http.Error(w, "invalid FEN: "+err.Error(), http.StatusBadRequest)
		return
	}

	var resp *PositionResponse
	var needsEval bool
	err = h.app.Do(r.Context(), func() error {
		node, _ := h.app.Tree.Lookup(pos.Reduced())
		resp = toPositionResponse(pos, node, h.app.Config.Quiz.AcceptPolicy, h.app.ECO)
		needsEval = node != nil && node.Depth() < 0
		return nil
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if needsEval && h.app.Analyser != nil {
		resp.Queued = h.app.Analyser.Enqueue(pos.Reduced())
	}
	writeJSON(w, resp)
}

type addMoveRequest struct {
	FEN     string `json:"fen"`
	SAN     string `json:"san"`
	Comment string `json:"comment"`
	Source  string `json:"source"`
}

// addMove stores a move played while exploring.
func (h *Handler) addMove(w http.ResponseWriter, r *http.Request) {
	var req addMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	pos := position.Start()
	if req.FEN != "" {
		var err error
		if pos, err = position.FromFEN(req.FEN); err != nil {
			http.Error(w, "invalid FEN: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	source := graph.ManualExploration
	if req.Source != "" {
		var err error
		if source, err = graph.ParseSourceType(req.Source); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	next, label, err := pos.Apply(req.SAN)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp MoveResponse
	err = h.app.Do(r.Context(), func() error {
		node := h.app.Tree.Get(pos.Reduced())
		m := graph.NewMove(label, next.Reduced(), source)
		m.Comment = req.Comment
		stored := node.Add(m)
		resp = toMoveResponse(node, stored, h.app.Config.Quiz.AcceptPolicy)
		return nil
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusCreated, resp)
}

// analyse queues a position for engine analysis.
func (h *Handler) analyse(w http.ResponseWriter, r *http.Request) {
	if h.app.Analyser == nil {
		http.Error(w, "engine not configured", http.StatusServiceUnavailable)
		return
	}
	pos, err := parsePosition(r)
	if err != nil {
		http.Error(w, "invalid FEN: "+err.Error(), http.StatusBadRequest)
		return
	}
	queued := h.app.Analyser.Enqueue(pos.Reduced())
	writeJSON(w, map[string]any{
		"fen":       pos.Reduced(),
		"queued":    queued,
		"queue_len": h.app.Analyser.QueueLen(),
	})
}

// find returns the first node matching the search criteria.
func (h *Handler) find(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxDepth := h.app.Config.Analysis.DesiredDepth
	if v := q.Get("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid max_depth", http.StatusBadRequest)
			return
		}
		maxDepth = n
	}
	minSource := graph.Unknown
	if v := q.Get("min_source"); v != "" {
		s, err := graph.ParseSourceType(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		minSource = s
	}
	allowTerminal := q.Get("allow_terminal") == "true"
	preferHigher := q.Get("prefer_higher_source") != "false"

	var resp *PositionResponse
	err := h.app.Do(r.Context(), func() error {
		node := h.app.Tree.FindNode(maxDepth, minSource, allowTerminal, preferHigher)
		if node == nil {
			return nil
		}
		pos, err := position.FromFEN(node.FEN)
		if err != nil {
			return err
		}
		resp = toPositionResponse(pos, node, h.app.Config.Quiz.AcceptPolicy, h.app.ECO)
		return nil
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if resp == nil {
		http.Error(w, "no matching position", http.StatusNotFound)
		return
	}
	writeJSON(w, resp)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	targets, _ := h.app.Config.Analysis.Targets()
	var treeStats graph.Stats
	var report engine.Report
	var white, black int
	err := h.app.Do(r.Context(), func() error {
		treeStats = h.app.Tree.Stats()
		report = engine.Statistics(h.app.Tree, targets)
		white, black = h.app.WhiteOpenings.Len(), h.app.BlackOpenings.Len()
		return nil
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp := map[string]any{
		"tree":           treeStats,
		"analysis":       report,
		"average_depth":  report.AverageDepth(),
		"white_openings": white,
		"black_openings": black,
	}
	if h.app.Games != nil {
		if n, err := h.app.Games.Count(r.Context()); err == nil {
			resp["games"] = n
		}
	}
	if a := h.app.Analyser; a != nil {
		analysed, failed := a.Counters()
		resp["eval"] = map[string]any{
			"queue_len": a.QueueLen(),
			"analysed":  analysed,
			"failed":    failed,
		}
	}
	writeJSON(w, resp)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.app.Save(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("save failed")
		http.Error(w, "save failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"saved": true, "dur_ms": time.Since(start).Milliseconds()})
}

type startQuizRequest struct {
	Color string `json:"color"` // white, black or empty for random
}

type quizResponse struct {
	State   quiz.State   `json:"state"`
	Result  quiz.Result  `json:"result"`
	Opening *eco.Opening `json:"opening,omitempty"`
}

// newQuizResponse names the opening reached by the moves played so far.
func (h *Handler) newQuizResponse(st quiz.State, res quiz.Result) quizResponse {
	resp := quizResponse{State: st, Result: res}
	if h.app.ECO != nil {
		resp.Opening = h.app.ECO.LookupLine(st.Moves)
	}
	return resp
}

func (h *Handler) startQuiz(w http.ResponseWriter, r *http.Request) {
	var req startQuizRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}
	var playerWhite bool
	switch req.Color {
	case "white":
		playerWhite = true
	case "black":
	case "":
		playerWhite = time.Now().UnixNano()%2 == 0
	default:
		http.Error(w, "color must be white or black", http.StatusBadRequest)
		return
	}
	st, res, err := h.app.StartQuiz(r.Context(), playerWhite)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusCreated, h.newQuizResponse(st, res))
}

func (h *Handler) quizState(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.QuizState(r.Context(), r.PathValue("id"))
	if errors.Is(err, app.ErrQuizNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

type quizMoveRequest struct {
	SAN string `json:"san"`
}

func (h *Handler) quizMove(w http.ResponseWriter, r *http.Request) {
	var req quizMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	res, st, err := h.app.PlayQuiz(r.Context(), r.PathValue("id"), req.SAN)
	switch {
	case errors.Is(err, app.ErrQuizNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, quiz.ErrNotStarted), errors.Is(err, quiz.ErrNotPlayerTurn):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, position.ErrIllegalMove):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.newQuizResponse(st, res))
}

// games lists stored games that reached a position, by reduced fingerprint
// unless exact=true.
func (h *Handler) games(w http.ResponseWriter, r *http.Request) {
	if h.app.Games == nil {
		http.Error(w, "game database not configured", http.StatusServiceUnavailable)
		return
	}
	pos, err := parsePosition(r)
	if err != nil {
		http.Error(w, "invalid FEN: "+err.Error(), http.StatusBadRequest)
		return
	}
	fen := pos.Reduced()
	search := h.app.Games.SearchByReducedFEN
	if r.URL.Query().Get("exact") == "true" {
		fen, search = pos.FEN(), h.app.Games.SearchByFEN
	}
	docs, err := search(r.Context(), fen)
	if err != nil {
		h.log.Error().Err(err).Msg("game search failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.GameDocument{}
	}
	writeJSON(w, map[string]any{"fen": fen, "games": docs})
}

func (h *Handler) game(w http.ResponseWriter, r *http.Request) {
	if h.app.Games == nil {
		http.Error(w, "game database not configured", http.StatusServiceUnavailable)
		return
	}
	doc, err := h.app.Games.Game(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrGameNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, doc)
}

func (h *Handler) performance(w http.ResponseWriter, r *http.Request) {
	if h.app.Games == nil {
		http.Error(w, "game database not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	player := q.Get("player")
	if player == "" {
		http.Error(w, "missing player parameter", http.StatusBadRequest)
		return
	}
	day := time.Now()
	if v := q.Get("day"); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, time.Local)
		if err != nil {
			http.Error(w, "invalid day: "+err.Error(), http.StatusBadRequest)
			return
		}
		day = d
	}
	tc := perf.Blitz
	if v := q.Get("time_control"); v != "" {
		c, err := perf.ParseTimeControl(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tc = c
	}

	p, err := h.app.Games.PerformanceOnDay(r.Context(), player, day, tc)
	if err != nil {
		h.log.Warn().Err(err).Str("player", player).Msg("performance failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, toPerformanceResponse(p))
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
