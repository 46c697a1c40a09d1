package graph

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/freeeve/openingtree/internal/position"
)

var evalHeader = []string{"fen", "eval", "eval_depth", "is_mate"}

// ErrEvalHeader is returned when an eval exchange file has an unexpected header.
var ErrEvalHeader = errors.New("invalid eval header")

// ExportEvals writes every evaluated node as fen,eval,eval_depth,is_mate in
// insertion order and returns the number of rows written.
func (t *Tree) ExportEvals(w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(evalHeader); err != nil {
		return 0, err
	}
	var rows int
	for _, fen := range t.order {
		n := t.nodes[fen]
		if n.depth < 0 {
			continue
		}
		row := []string{fen, formatFloat(n.eval), strconv.Itoa(n.depth), strconv.FormatBool(n.mate)}
		if err := cw.Write(row); err != nil {
			return rows, err
		}
		rows++
	}
	cw.Flush()
	return rows, cw.Error()
}

// EvalImport counts the outcome of ImportEvals.
type EvalImport struct {
	Rows      int
	Updated   int
	Unchanged int
	Created   int
	Skipped   int
	Errors    int
}

// ImportEvals merges an eval exchange file with Node.Update, so shallower
// evaluations never replace deeper ones. Unknown positions are skipped
// unless createMissing is set. Malformed rows are counted, not fatal.
func (t *Tree) ImportEvals(r io.Reader, createMissing bool) (EvalImport, error) {
	var res EvalImport
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return res, fmt.Errorf("read header: %w", err)
	}
	if len(header) < len(evalHeader) {
		return res, fmt.Errorf("%w: %v", ErrEvalHeader, header)
	}
	for i, name := range evalHeader {
		if header[i] != name {
			return res, fmt.Errorf("%w: %v", ErrEvalHeader, header)
		}
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			return res, nil
		}
		res.Rows++
		if err != nil || len(row) < len(evalHeader) {
			res.Errors++
			continue
		}
		eval, err1 := strconv.ParseFloat(row[1], 64)
		depth, err2 := strconv.Atoi(row[2])
		if err1 != nil || err2 != nil {
			res.Errors++
			continue
		}
		fen := position.Key(row[0])
		n, ok := t.Lookup(fen)
		if !ok {
			if !createMissing {
				res.Skipped++
				continue
			}
			n = t.Get(fen)
			res.Created++
		}
		if n.Update(eval, depth, parseBool(row[3])) {
			res.Updated++
		} else {
			res.Unchanged++
		}
	}
}
