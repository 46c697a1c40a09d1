package perf

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeControl is the speed class of a game.
type TimeControl string

const (
	Bullet         TimeControl = "bullet"
	Blitz          TimeControl = "blitz"
	Rapid          TimeControl = "rapid"
	Classical      TimeControl = "classical"
	Correspondence TimeControl = "correspondence"
)

// TimeControls lists the classes from fastest to slowest.
func TimeControls() []TimeControl {
	return []TimeControl{Bullet, Blitz, Rapid, Classical, Correspondence}
}

// ClassifyTimeControl maps a PGN TimeControl tag such as "180+2" to its
// class using the base time in seconds. "-" denotes correspondence play.
func ClassifyTimeControl(tag string) (TimeControl, error) {
	tag = strings.TrimSpace(tag)
	if tag == "-" {
		return Correspondence, nil
	}
	base, _, _ := strings.Cut(tag, "+")
	if i := strings.IndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	seconds, err := strconv.Atoi(base)
	if err != nil {
		return "", fmt.Errorf("parse time control %q: %w", tag, err)
	}
	switch {
	case seconds < 180:
		return Bullet, nil
	case seconds < 600:
		return Blitz, nil
	case seconds < 1800:
		return Rapid, nil
	case seconds < 10800:
		return Classical, nil
	}
	return Correspondence, nil
}

// ParseTimeControl validates a class name.
func ParseTimeControl(name string) (TimeControl, error) {
	for _, tc := range TimeControls() {
		if string(tc) == strings.ToLower(strings.TrimSpace(name)) {
			return tc, nil
		}
	}
	return "", fmt.Errorf("unknown time control %q", name)
}

// ByTimeControl groups games by class. Games with an unreadable tag are skipped.
func ByTimeControl(games []Game) map[TimeControl][]Game {
	out := make(map[TimeControl][]Game)
	for _, g := range games {
		tc, err := ClassifyTimeControl(g.TimeControl)
		if err != nil {
			continue
		}
		out[tc] = append(out[tc], g)
	}
	return out
}
