// Package perf estimates a player's performance rating from a set of games.
package perf

import (
	"errors"
	"fmt"
	"math"
)

const (
	lowElo      = 0
	highElo     = 4000
	eloAccuracy = 0.01
)

var (
	// ErrParticipantMismatch is returned when the player did not play a game.
	ErrParticipantMismatch = errors.New("player not in game")
	// ErrUnparseableResult is returned for results other than 1-0, 0-1 and 1/2-1/2.
	ErrUnparseableResult = errors.New("game result not interpretable")
)

// Game is the part of a game record needed for rating estimates.
type Game struct {
	ID          string
	White       string
	Black       string
	WhiteElo    int
	BlackElo    int
	Result      string
	TimeControl string
}

func (g Game) opponentElo(player string) (int, error) {
	switch player {
	case g.White:
		return g.BlackElo, nil
	case g.Black:
		return g.WhiteElo, nil
	}
	return 0, fmt.Errorf("%w: %s in %s", ErrParticipantMismatch, player, g.ID)
}

// ExpectedScore is the score a player rated elo would be expected to make
// against the opponents faced in games.
func ExpectedScore(games []Game, player string, elo float64) (float64, error) {
	score := 0.0
	for _, g := range games {
		opp, err := g.opponentElo(player)
		if err != nil {
			return 0, err
		}
		score += 1 / (1 + math.Pow(10, (float64(opp)-elo)/400))
	}
	return score, nil
}

// Result is 1 for a win, 0.5 for a draw and 0 for a loss from player's side.
func Result(g Game, player string) (float64, error) {
	var white float64
	switch g.Result {
	case "1-0":
		white = 1
	case "0-1":
		white = 0
	case "1/2-1/2":
		white = 0.5
	default:
		return 0, fmt.Errorf("%w: %q in %s", ErrUnparseableResult, g.Result, g.ID)
	}
	switch player {
	case g.White:
		return white, nil
	case g.Black:
		return 1 - white, nil
	}
	return 0, fmt.Errorf("%w: %s in %s", ErrParticipantMismatch, player, g.ID)
}

// Score sums Result over games.
func Score(games []Game, player string) (float64, error) {
	score := 0.0
	for _, g := range games {
		r, err := Result(g, player)
		if err != nil {
			return 0, err
		}
		score += r
	}
	return score, nil
}

// Performance bisects [0, 4000] for the rating whose expected score matches
// the actual score. It returns -Inf when no points were scored and +Inf when
// every game was won.
func Performance(games []Game, player string) (float64, error) {
	score, err := Score(games, player)
	if err != nil {
		return 0, err
	}
	if score == 0 {
		return math.Inf(-1), nil
	}
	if int(score) == len(games) {
		return math.Inf(1), nil
	}
	low, high := float64(lowElo), float64(highElo)
	for high-low > eloAccuracy {
		mid := (low + high) / 2
		expected, err := ExpectedScore(games, player, mid)
		if err != nil {
			return 0, err
		}
		if expected < score {
			low = mid
		} else {
			high = mid
		}
	}
	return high, nil
}
