package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSource is returned when a source name does not match any SourceType.
var ErrUnknownSource = errors.New("unknown source")

// SourceType is the provenance of a move. Higher values are more trusted.
type SourceType int

const (
	Unknown           SourceType = -3
	EngineSynthetic   SourceType = -2
	QuizExploration   SourceType = -1
	ManualExploration SourceType = 0
	Manual            SourceType = 1
	AmateurGame       SourceType = 2
	IntermediateGame  SourceType = 3
	ProfessionalGame  SourceType = 4
	MasterGame        SourceType = 5
	GMGame            SourceType = 6
	TheoryVideo       SourceType = 7
	Course            SourceType = 8
	Book              SourceType = 9
)

// DefaultSource is assigned to moves created without an explicit source.
const DefaultSource = Unknown

var sourceNames = []string{
	"UNKNOWN",
	"ENGINE_SYNTHETIC",
	"QUIZ_EXPLORATION",
	"MANUAL_EXPLORATION",
	"MANUAL",
	"AMATEUR_GAME",
	"INTERMEDIATE_GAME",
	"PROFESSIONAL_GAME",
	"MASTER_GAME",
	"GM_GAME",
	"THEORY_VIDEO",
	"COURSE",
	"BOOK",
}

// SourceTypes lists every source in ascending rank.
func SourceTypes() []SourceType {
	out := make([]SourceType, len(sourceNames))
	for i := range sourceNames {
		out[i] = Unknown + SourceType(i)
	}
	return out
}

// Valid reports whether s is one of the defined sources.
func (s SourceType) Valid() bool {
	return s >= Unknown && s <= Book
}

// Rank is the ordinal trust level used when comparing sources.
func (s SourceType) Rank() int { return int(s) }

// String returns the symbolic name, e.g. "BOOK".
func (s SourceType) String() string {
	if !s.Valid() {
		return fmt.Sprintf("SourceType(%d)", int(s))
	}
	return sourceNames[s-Unknown]
}

// ParseSourceType resolves a symbolic name. Matching ignores case and
// surrounding whitespace.
func ParseSourceType(name string) (SourceType, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range sourceNames {
		if n == want {
			return Unknown + SourceType(i), nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownSource, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s SourceType) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSource, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SourceType) UnmarshalText(b []byte) error {
	v, err := ParseSourceType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
