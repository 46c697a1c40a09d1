// Package quiz runs opening drills: the player must find acceptable moves
// while the opponent replies the way real games went.
package quiz

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/gamerecord"
	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/metrics"
	"github.com/freeeve/openingtree/internal/position"
)

var (
	// ErrNotStarted is returned when playing in a session that is not running.
	ErrNotStarted = errors.New("quiz not started")
	// ErrNotPlayerTurn is returned when the player moves out of turn.
	ErrNotPlayerTurn = errors.New("not the player's turn")
)

// Verdict classifies a player move.
type Verdict string

const (
	Unknown  Verdict = "unknown"
	Rejected Verdict = "rejected"
	Accepted Verdict = "accepted"
)

// Config wires a session to its trees.
type Config struct {
	Tree *graph.Tree // Evaluated repertoire tree; receives explored moves
	// Opening trees built from the player's own games as white and as black.
	WhiteOpenings *graph.Tree
	BlackOpenings *graph.Tree
	Policy        graph.AcceptPolicy
	Rand          graph.Rand
	Logger        zerolog.Logger
}

// MoveLeft is a stored move the player could still have played.
type MoveLeft struct {
	SAN    string `json:"san"`
	CPLoss int    `json:"cp_loss"`
}

// Finish describes how a session ended.
type Finish struct {
	Reason    string     `json:"reason"`
	Line      string     `json:"line"`
	FEN       string     `json:"fen"`
	MovesLeft []MoveLeft `json:"moves_left,omitempty"`
}

// Result reports the outcome of a player move or of the opening reply.
type Result struct {
	Verdict  Verdict `json:"verdict,omitempty"`
	SAN      string  `json:"san,omitempty"`
	CPLoss   int     `json:"cp_loss"`
	Reply    string  `json:"reply,omitempty"`
	Finished *Finish `json:"finished,omitempty"`
}

// State is a snapshot of a session.
type State struct {
	ID          string   `json:"id"`
	PlayerWhite bool     `json:"player_white"`
	Running     bool     `json:"running"`
	FEN         string   `json:"fen"`
	Moves       []string `json:"moves"`
	Line        string   `json:"line"`
	Finished    *Finish  `json:"finished,omitempty"`
}

// Session is one quiz run. It mutates the trees it was given and is not
// safe for concurrent use.
type Session struct {
	ID string

	cfg         Config
	log         zerolog.Logger
	pos         *position.Position
	playerWhite bool
	running     bool
	playerTurn  bool
	moves       []string
	finished    *Finish
}

// New creates a session that has not started yet.
func New(cfg Config) *Session {
	if cfg.Policy.Threshold == 0 && cfg.Policy.RelaxedThreshold == 0 {
		cfg.Policy = graph.DefaultAcceptPolicy()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	id := uuid.NewString()
	return &Session{
		ID:  id,
		cfg: cfg,
		log: cfg.Logger.With().Str("quiz", id).Logger(),
		pos: position.Start(),
	}
}

// Start resets the board and begins a quiz with the player on the given
// side. When the player has black the opponent's first move is returned.
func (s *Session) Start(playerWhite bool) Result {
	s.pos = position.Start()
	s.playerWhite = playerWhite
	s.moves = nil
	s.finished = nil
	s.running = true
	s.playerTurn = playerWhite
	s.log.Info().Bool("player_white", playerWhite).Msg("quiz started")
	if playerWhite {
		return Result{}
	}
	return s.opponentMove()
}

// Play answers the current position with san.
func (s *Session) Play(san string) (Result, error) {
	if !s.running {
		return Result{}, ErrNotStarted
	}
	if !s.playerTurn {
		return Result{}, ErrNotPlayerTurn
	}
	next, label, err := s.pos.Apply(san)
	if err != nil {
		return Result{}, err
	}

	node := s.cfg.Tree.Get(s.pos.Reduced())
	move := node.MoveByLabel(label)
	if move == nil {
		node.Add(graph.NewMove(label, next.Reduced(), graph.QuizExploration))
		metrics.QuizMoves.WithLabelValues(string(Unknown)).Inc()
		s.log.Info().Str("san", label).Str("fen", node.FEN).Msg("unknown move added to tree")
		return Result{Verdict: Unknown, SAN: label}, nil
	}

	loss := node.CentipawnLoss(move)
	if !node.IsAcceptableMove(move, s.cfg.Policy) {
		metrics.QuizMoves.WithLabelValues(string(Rejected)).Inc()
		s.log.Info().Str("san", label).Int("cp_loss", loss).Msg("move not acceptable")
		return Result{Verdict: Rejected, SAN: label, CPLoss: loss}, nil
	}

	metrics.QuizMoves.WithLabelValues(string(Accepted)).Inc()
	s.log.Info().Str("san", label).Int("cp_loss", loss).Msg("good move")
	s.pos = next
	s.moves = append(s.moves, label)
	s.playerTurn = false

	r := s.opponentMove()
	r.Verdict, r.SAN, r.CPLoss = Accepted, label, loss
	return r, nil
}

// opponentMove replies from the main tree, falling back to the opening
// trees, and picks by frequency when the opponent's opening tree knows
// how often each reply was played.
func (s *Session) opponentMove() Result {
	fen := s.pos.Reduced()
	node := s.cfg.Tree.Get(fen)
	if !node.HasMove() {
		switch {
		case hasMoves(s.cfg.BlackOpenings, fen):
			node = s.cfg.BlackOpenings.Get(fen)
		case hasMoves(s.cfg.WhiteOpenings, fen):
			node = s.cfg.WhiteOpenings.Get(fen)
		default:
			return Result{Finished: s.finish(node, "no moves for opponent known")}
		}
	}

	var move *graph.Move
	var err error
	if op := s.opponentOpenings(); op != nil {
		if opNode, ok := op.Lookup(fen); ok && opNode.HasFrequency() {
			move, err = opNode.RandomMove(s.cfg.Rand, true)
		}
	}
	if move == nil {
		move, err = node.RandomMove(s.cfg.Rand, false)
	}
	if err != nil {
		return Result{Finished: s.finish(node, fmt.Sprintf("no opponent move: %v", err))}
	}

	next, label, err := s.pos.Apply(move.Label)
	if err != nil {
		s.log.Warn().Err(err).Str("fen", fen).Msg("stored opponent move is illegal")
		return Result{Finished: s.finish(node, "opponent move is illegal")}
	}
	s.pos = next
	s.moves = append(s.moves, label)
	s.playerTurn = true

	r := Result{Reply: label}
	reached := s.cfg.Tree.Get(s.pos.Reduced())
	if !reached.HasAcceptableMove(s.cfg.Policy) {
		r.Finished = s.finish(reached, "opponent moved, no more acceptable moves for player known")
	}
	return r
}

// opponentOpenings is the tree of the player's own games with the
// player's colour: the opponent's replies there are what real opponents chose.
func (s *Session) opponentOpenings() *graph.Tree {
	if s.playerWhite {
		return s.cfg.WhiteOpenings
	}
	return s.cfg.BlackOpenings
}

func hasMoves(t *graph.Tree, fen string) bool {
	if t == nil {
		return false
	}
	n, ok := t.Lookup(fen)
	return ok && n.HasMove()
}

func (s *Session) finish(node *graph.Node, reason string) *Finish {
	f := &Finish{
		Reason: reason,
		Line:   gamerecord.FormatMoves(s.moves, true),
		FEN:    node.FEN,
	}
	for _, m := range node.Moves() {
		f.MovesLeft = append(f.MovesLeft, MoveLeft{SAN: m.Label, CPLoss: node.CentipawnLoss(m)})
	}
	s.running = false
	s.finished = f
	s.log.Info().Str("reason", reason).Str("line", f.Line).Msg("quiz finished")
	return f
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	return State{
		ID:          s.ID,
		PlayerWhite: s.playerWhite,
		Running:     s.running,
		FEN:         s.pos.FEN(),
		Moves:       append([]string(nil), s.moves...),
		Line:        gamerecord.FormatMoves(s.moves, true),
		Finished:    s.finished,
	}
}
