package graph

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/freeeve/openingtree/internal/position"
)

const (
	EvalFile  = "position_eval.csv"
	MovesFile = "moves.csv"
)

// EvalPath is the path of the evaluation file.
func (t *Tree) EvalPath() string { return filepath.Join(t.dir, EvalFile) }

// MovesPath is the path of the moves file.
func (t *Tree) MovesPath() string { return filepath.Join(t.dir, MovesFile) }

// Load replaces the tree contents with the files in Dir. Missing files are
// created empty. On error the tree is left unchanged.
func (t *Tree) Load() error {
	fresh := New(t.dir)
	if err := readRows(t.EvalPath(), fresh.loadEval); err != nil {
		return err
	}
	if err := readRows(t.MovesPath(), fresh.loadMove); err != nil {
		return err
	}
	t.nodes, t.order, t.backlinks = fresh.nodes, fresh.order, fresh.backlinks
	for _, n := range t.nodes {
		n.tree = t
		for _, m := range n.moves {
			m.tree = t
		}
	}
	return nil
}

// loadEval parses fen;eval;depth;is_mate.
func (t *Tree) loadEval(row []string) error {
	if len(row) < 4 {
		return fmt.Errorf("want 4 fields, got %d", len(row))
	}
	eval, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	depth, err := strconv.Atoi(row[2])
	if err != nil {
		return fmt.Errorf("depth: %w", err)
	}
	n := t.Get(row[0])
	n.eval, n.depth, n.mate = eval, depth, parseBool(row[3])
	return nil
}

// loadMove parses fen;label;comment;source;frequency[;result]. Rows
// written before the result column existed are replayed to recover it.
func (t *Tree) loadMove(row []string) error {
	if len(row) < 5 {
		return fmt.Errorf("want 6 fields, got %d", len(row))
	}
	fen, label := row[0], row[1]
	source, err := ParseSourceType(row[3])
	if err != nil {
		return err
	}
	freq, err := strconv.Atoi(row[4])
	if err != nil {
		return fmt.Errorf("frequency: %w", err)
	}
	var result string
	if len(row) >= 6 {
		result = row[5]
	} else {
		pos, err := position.FromFEN(fen)
		if err != nil {
			return err
		}
		next, _, err := pos.Apply(label)
		if err != nil {
			return err
		}
		result = next.Reduced()
	}
	m := NewMove(label, result, source)
	m.Comment = row[2]
	stored := t.Get(fen).Add(m)
	stored.Frequency = freq
	return nil
}

func readRows(path string, fn func([]string) error) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return createEmpty(path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.Comma = ';'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := fn(row); err != nil {
			return fmt.Errorf("%s row %d: %w", path, line, err)
		}
	}
}

func createEmpty(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return f.Close()
}

// Save writes both tree files, each through a temporary file renamed into place.
func (t *Tree) Save() error {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return err
	}
	err := writeAtomic(t.MovesPath(), func(w *bufio.Writer) error {
		for _, fen := range t.order {
			for _, m := range t.nodes[fen].moves {
				if err := writeRow(w, fen, m.Label, m.Comment, m.Source.String(), strconv.Itoa(m.Frequency), m.Result); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return writeAtomic(t.EvalPath(), func(w *bufio.Writer) error {
		for _, fen := range t.order {
			n := t.nodes[fen]
			if err := writeRow(w, fen, formatFloat(n.eval), strconv.Itoa(n.depth), formatBool(n.mate)); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeAtomic(path string, fill func(*bufio.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// writeRow writes fields quoted and separated by ';'.
func writeRow(w *bufio.Writer, fields ...string) error {
	for i, field := range fields {
		if i > 0 {
			w.WriteByte(';')
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(field, `"`, `""`))
		w.WriteByte('"')
	}
	return w.WriteByte('\n')
}

// formatFloat always includes a decimal point so 0 is written as "0.0".
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
