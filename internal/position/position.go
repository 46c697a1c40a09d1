// Package position wraps the pgn rule engine and produces the textual
// fingerprints used as node keys in the opening graph.
package position

import (
	"errors"
	"fmt"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// StartReduced is the reduced fingerprint of the standard starting position.
const StartReduced = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq -"

// ErrIllegalMove is returned when a move label cannot be played in a position.
var ErrIllegalMove = errors.New("illegal move")

// Position is an immutable view of a board state.
type Position struct {
	gs *pgn.GameState
}

// Start returns the standard starting position.
func Start() *Position {
	return &Position{gs: pgn.NewStartingPosition()}
}

// FromFEN parses a full or reduced fingerprint.
func FromFEN(fen string) (*Position, error) {
	fields := strings.Fields(fen)
	switch len(fields) {
	case 4:
		fen = strings.Join(fields, " ") + " 0 1"
	case 6:
	default:
		return nil, fmt.Errorf("parse fen %q: want 4 or 6 fields, got %d", fen, len(fields))
	}
	gs, err := pgn.NewGame(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return &Position{gs: gs}, nil
}

// FEN returns the full fingerprint including move counters. The en-passant
// field names a square only when an en-passant capture is legal, so a board
// reached through different move orders has a single fingerprint.
func (p *Position) FEN() string {
	fields := strings.Fields(p.gs.ToFEN())
	if len(fields) > 3 && fields[3] != "-" && !p.canCaptureEnPassant() {
		fields[3] = "-"
	}
	return strings.Join(fields, " ")
}

// Reduced returns the fingerprint without the halfmove clock and move number.
func (p *Position) Reduced() string {
	return ReduceFEN(p.FEN())
}

// WhiteToMove reports whether white is the side to move.
func (p *Position) WhiteToMove() bool {
	return WhiteToMove(p.gs.ToFEN())
}

// InCheck reports whether the side to move is in check.
func (p *Position) InCheck() bool {
	return p.gs.IsInCheck()
}

// Terminal reports whether the side to move has no legal moves.
func (p *Position) Terminal() bool {
	return len(pgn.GenerateLegalMoves(p.gs)) == 0
}

func (p *Position) canCaptureEnPassant() bool {
	for _, m := range pgn.GenerateLegalMoves(p.gs) {
		if m.Flags == 2 {
			return true
		}
	}
	return false
}

// ReduceFEN drops the last two fields of a six-field fingerprint.
// Already reduced fingerprints are returned unchanged.
func ReduceFEN(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

// Key returns the node key for fen: the reduced fingerprint with the
// en-passant field normalized as in Reduced. Text that does not parse is
// only reduced.
func Key(fen string) string {
	if p, err := FromFEN(fen); err == nil {
		return p.Reduced()
	}
	return ReduceFEN(fen)
}

// WhiteToMove reads the side-to-move field of a fingerprint.
func WhiteToMove(fen string) bool {
	fields := strings.Fields(fen)
	return len(fields) < 2 || fields[1] != "b"
}

func (p *Position) clone() *pgn.GameState {
	if gs, err := pgn.NewGame(p.gs.ToFEN()); err == nil {
		return gs
	}
	return p.gs.Pack().Unpack()
}
