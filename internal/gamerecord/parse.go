package gamerecord

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

var glyphNAGs = map[string]int{
	"!": 1, "?": 2, "!!": 3, "??": 4, "!?": 5, "?!": 6,
}

// Scan reads games from r and calls fn with each one as soon as its
// movetext is complete, so only a single game is held in memory. Moves are
// not validated here; a game whose movetext is syntactically broken is still
// passed on with the moves read so far. Scan stops at the first error from
// fn or from r.
func Scan(r io.Reader, fn func(*Game) error) error {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64<<10)
	}
	p := &parser{r: br, emit: fn}
	p.run()
	return p.err
}

// Parse reads every game from PGN text.
func Parse(r io.Reader) ([]*Game, error) {
	var games []*Game
	err := Scan(r, func(g *Game) error {
		games = append(games, g)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return games, nil
}

// ParseString is Parse over a string.
func ParseString(s string) ([]*Game, error) {
	return Parse(strings.NewReader(s))
}

type parser struct {
	r    *bufio.Reader
	emit func(*Game) error
	err  error

	game      *Game
	node      *Node
	stack     []*Node
	movetext  bool
	lineStart bool
}

func (p *parser) read() (rune, bool) {
	c, _, err := p.r.ReadRune()
	if err != nil {
		if err != io.EOF && p.err == nil {
			p.err = fmt.Errorf("read pgn: %w", err)
		}
		return 0, false
	}
	return c, true
}

func (p *parser) peek() (rune, bool) {
	c, ok := p.read()
	if ok {
		_ = p.r.UnreadRune()
	}
	return c, ok
}

func (p *parser) skip() {
	p.read()
}

func (p *parser) skipWhile(f func(rune) bool) {
	for c, ok := p.peek(); ok && f(c); c, ok = p.peek() {
		p.skip()
	}
}

func (p *parser) run() {
	p.lineStart = true
	for p.err == nil {
		c, ok := p.peek()
		if !ok {
			break
		}
		switch {
		case c == '\n':
			p.skip()
			p.lineStart = true
			continue
		case unicode.IsSpace(c):
			p.skip()
			continue
		case c == '%' && p.lineStart:
			p.skipWhile(func(c rune) bool { return c != '\n' })
		case c == '[':
			p.readTag()
		case c == '{':
			p.addComment(p.readUntil('}'))
		case c == ';':
			p.addComment(p.readUntil('\n'))
		case c == '(':
			p.skip()
			p.openVariation()
		case c == ')':
			p.skip()
			p.closeVariation()
		case c == '$':
			p.skip()
			if n, err := strconv.Atoi(p.readWord()); err == nil {
				p.addNAG(n)
			}
		case c == '*':
			p.skip()
			p.endGame("*")
		default:
			p.readToken(p.readWord())
		}
		p.lineStart = false
	}
	if p.err == nil {
		p.flush()
	}
}

func (p *parser) current() *Game {
	if p.game == nil {
		p.game = newGame()
		p.node = p.game.Root
		p.stack = p.stack[:0]
		p.movetext = false
	}
	return p.game
}

func (p *parser) flush() {
	g := p.game
	p.game = nil
	if g == nil || !(p.movetext || len(g.Tags) > 0) || p.err != nil {
		return
	}
	if err := p.emit(g); err != nil {
		p.err = err
	}
}

func (p *parser) endGame(result string) {
	if p.game == nil || len(p.stack) > 0 {
		return
	}
	p.game.Result = result
	p.movetext = true
	p.flush()
}

// readUntil consumes the opening delimiter and returns the text up to end.
// A closing newline is left in place.
func (p *parser) readUntil(end rune) string {
	p.skip()
	var b strings.Builder
	for {
		c, ok := p.peek()
		if !ok {
			break
		}
		if c == end {
			if end != '\n' {
				p.skip()
			}
			break
		}
		b.WriteRune(c)
		p.skip()
	}
	return strings.TrimSpace(b.String())
}

func (p *parser) readWord() string {
	var b strings.Builder
	for {
		c, ok := p.peek()
		if !ok || unicode.IsSpace(c) || strings.ContainsRune("(){}[];$", c) {
			break
		}
		b.WriteRune(c)
		p.skip()
	}
	return b.String()
}

func (p *parser) readTag() {
	if p.game != nil && p.movetext {
		p.flush()
	}
	g := p.current()
	p.skip()
	p.skipWhile(unicode.IsSpace)
	key := p.readWord()
	p.skipWhile(func(c rune) bool { return c != '"' && c != ']' })
	var value strings.Builder
	if c, ok := p.peek(); ok && c == '"' {
		p.skip()
		for {
			c, ok := p.read()
			if !ok || c == '"' {
				break
			}
			if c == '\\' {
				if c, ok = p.read(); !ok {
					break
				}
			}
			value.WriteRune(c)
		}
	}
	p.skipWhile(func(c rune) bool { return c != ']' })
	p.skip()
	if key != "" {
		g.Tags[key] = value.String()
	}
}

func (p *parser) addComment(text string) {
	p.current()
	if text == "" {
		return
	}
	if p.node.Comment != "" {
		p.node.Comment += " "
	}
	p.node.Comment += text
}

func (p *parser) addNAG(n int) {
	p.current()
	p.node.NAGs = append(p.node.NAGs, n)
}

// openVariation starts an alternative to the move just played.
func (p *parser) openVariation() {
	p.current()
	p.movetext = true
	if p.node.Parent == nil {
		p.skipVariation()
		return
	}
	p.stack = append(p.stack, p.node)
	p.node = p.node.Parent
}

func (p *parser) closeVariation() {
	if len(p.stack) == 0 {
		return
	}
	p.node = p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
}

// skipVariation drops a variation that has no move to branch from.
func (p *parser) skipVariation() {
	depth := 1
	for depth > 0 {
		c, ok := p.peek()
		if !ok {
			return
		}
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case '{':
			p.readUntil('}')
			continue
		}
		p.skip()
	}
}

func (p *parser) readToken(word string) {
	if word == "" {
		p.skip()
		return
	}
	switch word {
	case "1-0", "0-1", "1/2-1/2", "½-½":
		p.endGame(word)
		return
	}
	if n, ok := glyphNAGs[word]; ok {
		p.addNAG(n)
		return
	}
	san := stripMoveNumber(word)
	if san == "" {
		return
	}
	trimmed := strings.TrimRight(san, "!?")
	if glyph := san[len(trimmed):]; glyph != "" {
		defer p.addNAG(glyphNAGs[glyph])
	}
	if trimmed == "" {
		return
	}
	p.current()
	p.movetext = true
	child := &Node{SAN: trimmed, Parent: p.node}
	p.node.Variations = append(p.node.Variations, child)
	p.node = child
}

// stripMoveNumber removes a leading "12." or "12..." prefix. Castling
// written with zeros is left alone.
func stripMoveNumber(word string) string {
	i := 0
	for i < len(word) && word[i] >= '0' && word[i] <= '9' {
		i++
	}
	if i == 0 || i == len(word) || word[i] != '.' {
		if i == len(word) {
			return ""
		}
		return word
	}
	for i < len(word) && word[i] == '.' {
		i++
	}
	return word[i:]
}
