// Package eco provides ECO (Encyclopedia of Chess Openings) lookup.
package eco

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/freeeve/openingtree/internal/position"
)

// Opening represents an ECO opening classification.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
}

// Database holds ECO opening data indexed by reduced fingerprint.
type Database struct {
	byPosition map[string]Opening
	count      int
}

// NewDatabase creates an empty ECO database.
func NewDatabase() *Database {
	return &Database{
		byPosition: make(map[string]Opening),
	}
}

// moveNumberRegex matches move numbers like "1." or "12..."
var moveNumberRegex = regexp.MustCompile(`\d+\.+\s*`)

// LoadDir loads all .tsv files from a directory.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files found in %s", dir)
	}
	for _, file := range files {
		if err := db.LoadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFile loads a single TSV file.
func (db *Database) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return db.Load(f)
}

// Load reads eco\tname\tpgn rows. Rows whose moves do not replay are skipped.
func (db *Database) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		pos, err := replay(parts[2])
		if err != nil {
			continue
		}
		fen := pos.Reduced()
		if _, ok := db.byPosition[fen]; !ok {
			db.count++
		}
		db.byPosition[fen] = Opening{ECO: parts[0], Name: parts[1]}
	}
	return scanner.Err()
}

// replay plays movetext like "1. e4 e5 2. Nf3 Nc6" from the start.
func replay(movetext string) (*position.Position, error) {
	pos := position.Start()
	for _, san := range strings.Fields(moveNumberRegex.ReplaceAllString(movetext, "")) {
		if san[0] == '$' || san[0] == '{' {
			continue
		}
		next, _, err := pos.Apply(san)
		if err != nil {
			return nil, err
		}
		pos = next
	}
	return pos, nil
}

// Lookup returns the opening for a fingerprint, or nil if not found.
func (db *Database) Lookup(fen string) *Opening {
	if o, ok := db.byPosition[position.Key(fen)]; ok {
		return &o
	}
	return nil
}

// LookupLine returns the last named opening reached along sans from the
// start, or nil when none is.
func (db *Database) LookupLine(sans []string) *Opening {
	var found *Opening
	pos := position.Start()
	for _, san := range sans {
		next, _, err := pos.Apply(san)
		if err != nil {
			break
		}
		pos = next
		if o := db.Lookup(pos.Reduced()); o != nil {
			found = o
		}
	}
	return found
}

// Count returns the number of positions with an opening name.
func (db *Database) Count() int {
	return db.count
}
