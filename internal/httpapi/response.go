package httpapi

import (
	"math"

	"github.com/freeeve/openingtree/internal/eco"
	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/position"
	"github.com/freeeve/openingtree/internal/store"
)

// PositionResponse describes a position and the moves known from it.
type PositionResponse struct {
	FEN         string         `json:"fen"`
	Known       bool           `json:"known"`
	WhiteToMove bool           `json:"white_to_move"`
	Eval        float64        `json:"eval"`
	Depth       int            `json:"depth"`
	IsMate      bool           `json:"is_mate"`
	Source      string         `json:"source,omitempty"`
	Opening     *eco.Opening   `json:"opening,omitempty"`
	BestMove    string         `json:"best_move,omitempty"`
	Moves       []MoveResponse `json:"moves"`
	LegalMoves  []string       `json:"legal_moves"`
	Queued      bool           `json:"queued,omitempty"`
}

// MoveResponse describes one stored move.
type MoveResponse struct {
	SAN        string  `json:"san"`
	Result     string  `json:"result"`
	Eval       float64 `json:"eval"`
	Depth      int     `json:"depth"`
	IsMate     bool    `json:"is_mate"`
	CPLoss     int     `json:"cp_loss"`
	Source     string  `json:"source"`
	Frequency  int     `json:"frequency"`
	Comment    string  `json:"comment,omitempty"`
	Acceptable bool    `json:"acceptable"`
}

// toPositionResponse renders node, which may be nil for an unknown position.
func toPositionResponse(pos *position.Position, node *graph.Node, policy graph.AcceptPolicy, ecoDB *eco.Database) *PositionResponse {
	resp := &PositionResponse{
		FEN:         pos.Reduced(),
		WhiteToMove: pos.WhiteToMove(),
		Depth:       -1,
		Moves:       []MoveResponse{},
		LegalMoves:  pos.LegalMoves(),
	}
	if ecoDB != nil {
		resp.Opening = ecoDB.Lookup(pos.Reduced())
	}
	if node == nil {
		return resp
	}

	resp.Known = true
	resp.Eval, resp.Depth, resp.IsMate = node.Evaluation(), node.Depth(), node.IsMate()
	resp.Source = node.Source().String()
	if best := node.BestMove(0); best != nil {
		resp.BestMove = best.Label
	}
	for _, m := range node.Moves() {
		resp.Moves = append(resp.Moves, toMoveResponse(node, m, policy))
	}
	return resp
}

func toMoveResponse(node *graph.Node, m *graph.Move, policy graph.AcceptPolicy) MoveResponse {
	return MoveResponse{
		SAN:        m.Label,
		Result:     m.Result,
		Eval:       m.Evaluation(),
		Depth:      m.EvaluationDepth(),
		IsMate:     m.IsMate(),
		CPLoss:     node.CentipawnLoss(m),
		Source:     m.Source.String(),
		Frequency:  m.Frequency,
		Comment:    m.Comment,
		Acceptable: node.IsAcceptableMove(m, policy),
	}
}

// PerformanceResponse is a performance rating. Ratings outside the finite
// range are reported as "+Inf" or "-Inf".
type PerformanceResponse struct {
	Player      string `json:"player"`
	Database    string `json:"database"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Games       int    `json:"games"`
	Performance any    `json:"performance"`
}

func toPerformanceResponse(p store.GamePerformance) PerformanceResponse {
	var rating any = math.Round(p.Performance*100) / 100
	switch {
	case math.IsInf(p.Performance, 1):
		rating = "+Inf"
	case math.IsInf(p.Performance, -1):
		rating = "-Inf"
	}
	return PerformanceResponse{
		Player:      p.Player,
		Database:    p.Database,
		Start:       p.Start.Format(store.TimeLayout),
		End:         p.End.Format(store.TimeLayout),
		Games:       p.Games,
		Performance: rating,
	}
}
