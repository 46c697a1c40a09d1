package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/freeeve/openingtree/internal/perf"
	"github.com/freeeve/openingtree/internal/position"
)

// ErrGameNotFound is returned when no game has the requested id.
var ErrGameNotFound = errors.New("game not found")

// TimeLayout is the layout of GameDocument.When.
const TimeLayout = "2006-01-02T15:04:05"

const startFEN = position.StartReduced + " 0 1"

const schema = `
CREATE TABLE IF NOT EXISTS games (
	id                TEXT PRIMARY KEY,
	site              TEXT NOT NULL DEFAULT '',
	played_at         TEXT NOT NULL DEFAULT '',
	white             TEXT NOT NULL DEFAULT '',
	black             TEXT NOT NULL DEFAULT '',
	result            TEXT NOT NULL DEFAULT '',
	termination       TEXT NOT NULL DEFAULT '',
	time_control      TEXT NOT NULL DEFAULT '',
	variant           TEXT NOT NULL DEFAULT '',
	link              TEXT NOT NULL DEFAULT '',
	white_elo         INTEGER NOT NULL DEFAULT 0,
	black_elo         INTEGER NOT NULL DEFAULT 0,
	starting_position TEXT NOT NULL,
	moves             TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_games_played_at ON games(played_at);
CREATE TABLE IF NOT EXISTS positions (
	game_id     TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
	move_index  INTEGER NOT NULL,
	fen         TEXT NOT NULL,
	reduced_fen TEXT NOT NULL,
	PRIMARY KEY (game_id, move_index)
);
CREATE INDEX IF NOT EXISTS idx_positions_reduced ON positions(reduced_fen);
CREATE INDEX IF NOT EXISTS idx_positions_fen ON positions(fen);
`

// GameDocument is a stored game with its mainline.
type GameDocument struct {
	ID               string   `json:"id"`
	Site             string   `json:"site"`
	When             string   `json:"when"`
	White            string   `json:"white"`
	Black            string   `json:"black"`
	Result           string   `json:"result"`
	Termination      string   `json:"termination"`
	TimeControl      string   `json:"time_control"`
	Variant          string   `json:"variant"`
	Link             string   `json:"link"`
	WhiteElo         int      `json:"white_elo"`
	BlackElo         int      `json:"black_elo"`
	StartingPosition string   `json:"starting_position"`
	Moves            []string `json:"moves"`
}

// DocumentFromTags builds a document from PGN tags and mainline moves.
// Games without a URL in Site or Link get an id derived from their content,
// so importing the same file twice yields the same ids.
func DocumentFromTags(tags map[string]string, moves []string) GameDocument {
	doc := GameDocument{
		Site:             tags["Site"],
		Link:             tags["Link"],
		White:            tags["White"],
		Black:            tags["Black"],
		Result:           tags["Result"],
		Termination:      tags["Termination"],
		TimeControl:      tags["TimeControl"],
		Variant:          tags["Variant"],
		WhiteElo:         parseElo(tags["WhiteElo"]),
		BlackElo:         parseElo(tags["BlackElo"]),
		StartingPosition: startFEN,
		Moves:            moves,
	}
	if fen := tags["FEN"]; fen != "" {
		doc.StartingPosition = fen
	}
	date, clock := tags["UTCDate"], tags["UTCTime"]
	if date == "" {
		date, clock = tags["Date"], tags["Time"]
	}
	if date != "" && !strings.Contains(date, "?") {
		if clock == "" {
			clock = "00:00:00"
		}
		doc.When = strings.ReplaceAll(date, ".", "-") + "T" + clock
	}
	doc.ID = gameID(doc)
	return doc
}

func gameID(doc GameDocument) string {
	for _, ref := range []string{doc.Site, doc.Link} {
		u, err := url.Parse(ref)
		if err != nil || u.Host == "" {
			continue
		}
		if seg := path.Base(u.Path); seg != "" && seg != "/" && seg != "." {
			return seg
		}
	}
	key := strings.Join([]string{doc.White, doc.Black, doc.When, doc.Result, doc.StartingPosition, strings.Join(doc.Moves, " ")}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func parseElo(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// PerfGame converts the document for rating estimates.
func (d GameDocument) PerfGame() perf.Game {
	return perf.Game{
		ID:          d.ID,
		White:       d.White,
		Black:       d.Black,
		WhiteElo:    d.WhiteElo,
		BlackElo:    d.BlackElo,
		Result:      d.Result,
		TimeControl: d.TimeControl,
	}
}

// GameStore is a SQLite database of games indexed by the positions they pass through.
type GameStore struct {
	conn *sql.DB
	Path string
}

// OpenGameStore opens or creates the database at path.
func OpenGameStore(path string) (*GameStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &GameStore{conn: conn, Path: path}, nil
}

// Close closes the database connection.
func (s *GameStore) Close() error {
	return s.conn.Close()
}

// Name is the database file name without extension.
func (s *GameStore) Name() string {
	return strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
}

// InsertGames stores documents whose id is not yet known and indexes every
// position of their mainline. Indexing stops at the first move the rule
// engine rejects. It returns the number of new games.
func (s *GameStore) InsertGames(ctx context.Context, docs []GameDocument) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	insertGame, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO games
		(id, site, played_at, white, black, result, termination, time_control, variant, link,
		 white_elo, black_elo, starting_position, moves)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer insertGame.Close()
	insertPos, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO positions
		(game_id, move_index, fen, reduced_fen) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer insertPos.Close()

	inserted := 0
	for _, d := range docs {
		res, err := insertGame.ExecContext(ctx, d.ID, d.Site, d.When, d.White, d.Black, d.Result,
			d.Termination, d.TimeControl, d.Variant, d.Link, d.WhiteElo, d.BlackElo,
			d.StartingPosition, strings.Join(d.Moves, " "))
		if err != nil {
			return 0, fmt.Errorf("insert game %s: %w", d.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		inserted++
		pos, err := position.FromFEN(d.StartingPosition)
		if err != nil {
			continue
		}
		for i, san := range d.Moves {
			next, _, err := pos.Apply(san)
			if err != nil {
				break
			}
			pos = next
			if _, err := insertPos.ExecContext(ctx, d.ID, i, pos.FEN(), pos.Reduced()); err != nil {
				return 0, fmt.Errorf("index game %s: %w", d.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

const gameColumns = `g.id, g.site, g.played_at, g.white, g.black, g.result, g.termination,
	g.time_control, g.variant, g.link, g.white_elo, g.black_elo, g.starting_position, g.moves`

func (s *GameStore) query(ctx context.Context, q string, args ...any) ([]GameDocument, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GameDocument
	for rows.Next() {
		var d GameDocument
		var moves string
		if err := rows.Scan(&d.ID, &d.Site, &d.When, &d.White, &d.Black, &d.Result, &d.Termination,
			&d.TimeControl, &d.Variant, &d.Link, &d.WhiteElo, &d.BlackElo, &d.StartingPosition, &moves); err != nil {
			return nil, err
		}
		d.Moves = strings.Fields(moves)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Game returns the game with the given id.
func (s *GameStore) Game(ctx context.Context, id string) (GameDocument, error) {
	docs, err := s.query(ctx, `SELECT `+gameColumns+` FROM games g WHERE g.id = ?`, id)
	if err != nil {
		return GameDocument{}, err
	}
	if len(docs) == 0 {
		return GameDocument{}, fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	return docs[0], nil
}

// Count is the number of stored games.
func (s *GameStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM games`).Scan(&n)
	return n, err
}

// SearchByFEN returns games that reached the exact position.
func (s *GameStore) SearchByFEN(ctx context.Context, fen string) ([]GameDocument, error) {
	return s.query(ctx, `SELECT `+gameColumns+` FROM games g
		WHERE g.id IN (SELECT game_id FROM positions WHERE fen = ?)
		ORDER BY g.played_at, g.id`, fen)
}

// SearchByReducedFEN returns games that reached the position regardless of move counters.
func (s *GameStore) SearchByReducedFEN(ctx context.Context, fen string) ([]GameDocument, error) {
	return s.query(ctx, `SELECT `+gameColumns+` FROM games g
		WHERE g.id IN (SELECT game_id FROM positions WHERE reduced_fen = ?)
		ORDER BY g.played_at, g.id`, position.Key(fen))
}

// SearchByTime returns games played in [start, end).
func (s *GameStore) SearchByTime(ctx context.Context, start, end time.Time) ([]GameDocument, error) {
	return s.query(ctx, `SELECT `+gameColumns+` FROM games g
		WHERE g.played_at >= ? AND g.played_at < ?
		ORDER BY g.played_at, g.id`, start.Format(TimeLayout), end.Format(TimeLayout))
}

// GamePerformance is a performance rating over one period.
type GamePerformance struct {
	Games       int
	Performance float64
	Start       time.Time
	End         time.Time
	Player      string
	Database    string
}

// PerformanceOnDay rates player over the games of one calendar day played
// at the given time control. A day without games scores nothing and rates
// -Inf.
func (s *GameStore) PerformanceOnDay(ctx context.Context, player string, day time.Time, tc perf.TimeControl) (GamePerformance, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	docs, err := s.SearchByTime(ctx, start, end)
	if err != nil {
		return GamePerformance{}, err
	}
	var played []perf.Game
	for _, d := range docs {
		if d.White == player || d.Black == player {
			played = append(played, d.PerfGame())
		}
	}
	games := perf.ByTimeControl(played)[tc]
	out := GamePerformance{Games: len(games), Start: start, End: end, Player: player, Database: s.Name()}
	out.Performance, err = perf.Performance(games, player)
	return out, err
}
