package position

import (
	"fmt"
	"strings"

	"github.com/freeeve/pgn/v3"
)

const (
	files = "abcdefgh"
	ranks = "12345678"
)

// Apply plays a SAN move and returns the resulting position together with
// the canonical SAN label. The receiver is left untouched.
func (p *Position) Apply(san string) (*Position, string, error) {
	clean := cleanSAN(san)
	if clean == "" {
		return nil, "", fmt.Errorf("%w: empty move in %s", ErrIllegalMove, p.FEN())
	}
	mv, err := pgn.ParseSAN(p.gs, clean)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s in %s: %v", ErrIllegalMove, san, p.FEN(), err)
	}
	if !p.isLegal(mv) {
		return nil, "", fmt.Errorf("%w: %s in %s", ErrIllegalMove, san, p.FEN())
	}
	label := toSAN(p.gs, mv)
	next := p.clone()
	if err := pgn.ApplyMove(next, mv); err != nil {
		return nil, "", fmt.Errorf("%w: %s in %s: %v", ErrIllegalMove, san, p.FEN(), err)
	}
	return &Position{gs: next}, label, nil
}

// LegalMoves returns the canonical SAN label of every legal move.
func (p *Position) LegalMoves() []string {
	moves := pgn.GenerateLegalMoves(p.gs)
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, toSAN(p.gs, mv))
	}
	return out
}

func (p *Position) isLegal(mv pgn.Mv) bool {
	for _, other := range pgn.GenerateLegalMoves(p.gs) {
		if other.From == mv.From && other.To == mv.To && other.Promo == mv.Promo {
			return true
		}
	}
	return false
}

// cleanSAN strips annotation glyphs and check markers, and normalizes
// zero-style castling.
func cleanSAN(san string) string {
	s := strings.TrimSpace(san)
	s = strings.TrimRight(s, "!?+#")
	switch s {
	case "0-0":
		s = "O-O"
	case "0-0-0":
		s = "O-O-O"
	}
	return s
}

// toSAN renders a legal move in standard algebraic notation, including the
// check or mate suffix.
func toSAN(pos *pgn.GameState, mv pgn.Mv) string {
	var san string
	if mv.Flags == 4 {
		if mv.To > mv.From {
			san = "O-O"
		} else {
			san = "O-O-O"
		}
	} else {
		san = pieceSAN(pos, mv)
	}

	after := pos.Pack().Unpack()
	if after != nil && pgn.ApplyMove(after, mv) == nil && after.IsInCheck() {
		if len(pgn.GenerateLegalMoves(after)) == 0 {
			san += "#"
		} else {
			san += "+"
		}
	}
	return san
}

func pieceSAN(pos *pgn.GameState, mv pgn.Mv) string {
	fromSq := int(mv.From)
	toSq := int(mv.To)
	fromFile, fromRank := fromSq%8, fromSq/8
	target := string(files[toSq%8]) + string(ranks[toSq/8])

	piece := upper(byte(pos.PieceAt(mv.From)))
	isCapture := pos.PieceAt(mv.To) != 0 || (piece == 'P' && mv.Flags == 2)

	if piece == 'P' {
		san := target
		if isCapture {
			san = string(files[fromFile]) + "x" + target
		}
		switch mv.Promo {
		case pgn.PromoQueen:
			san += "=Q"
		case pgn.PromoRook:
			san += "=R"
		case pgn.PromoBishop:
			san += "=B"
		case pgn.PromoKnight:
			san += "=N"
		}
		return san
	}

	// Disambiguate against every other piece of the same kind reaching the
	// target square; file first, then rank, then both.
	sameFile, sameRank, rivals := false, false, false
	for _, other := range pgn.GenerateLegalMoves(pos) {
		if other.To != mv.To || other.From == mv.From || upper(byte(pos.PieceAt(other.From))) != piece {
			continue
		}
		rivals = true
		if int(other.From)%8 == fromFile {
			sameFile = true
		}
		if int(other.From)/8 == fromRank {
			sameRank = true
		}
	}
	san := string(piece)
	switch {
	case !rivals:
	case !sameFile:
		san += string(files[fromFile])
	case !sameRank:
		san += string(ranks[fromRank])
	default:
		san += string(files[fromFile]) + string(ranks[fromRank])
	}
	if isCapture {
		san += "x"
	}
	return san + target
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 32
	}
	return b
}
