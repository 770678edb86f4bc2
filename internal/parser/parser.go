package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ismaiel54/alert-trade-router/internal/index"
	"github.com/ismaiel54/alert-trade-router/internal/instruction"
	"go.uber.org/zap"
)

var (
	linkRe      = regexp.MustCompile(`HTTPS?://\S*`)
	headerRe    = regexp.MustCompile(`((?:[A-Z0-9]{3,12}\s)?[A-Z0-9]{3,12}) INDEX`)
	percentRe   = regexp.MustCompile(`([0-9]{2,3})%`)
	entryMarkRe = regexp.MustCompile(`ENTRY\s?=`)
	entryNumRe  = regexp.MustCompile(`ENTRY( = |=|= | =)([0-9]{2,10}(?:[.,][0-9]{2,10})?)`)
	stopMarkRe  = regexp.MustCompile(`STOP\s?=`)
	stopNumRe   = regexp.MustCompile(`STOP( = |=|= | =)([0-9]{2,10}(?:[.,][0-9]{2,10})?)`)
	levelRe     = regexp.MustCompile(`[0-9]{1,3}[,.]?[0-9]{1,10}`)
)

// Default stop distances when an alert leaves STOP= empty.
const (
	narrowStopDistance = 30.0
	wideStopDistance   = 50.0
)

var narrowStopIndices = map[string]bool{"FTSE": true, "DAX": true}

const unrecognizedFormat = "NOT A PARSING MESSAGE. Updated context index to: %s"

// message is one alert after preprocessing.
type message struct {
	text   string
	lines  []string
	edited bool
}

func prepare(text string, edited bool) *message {
	upper := linkRe.ReplaceAllString(strings.ToUpper(text), "")

	var lines []string
	for _, l := range strings.Split(upper, "\n") {
		l = strings.TrimSuffix(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return &message{text: upper, lines: lines, edited: edited}
}

type rule struct {
	name  string
	match func(m *message) bool
	parse func(m *message, ctx *Context) (*instruction.Instruction, error)
}

// Parser turns alert text into instructions. It owns the context slot
// and is not safe for concurrent use; callers feed it one message at a
// time in arrival order.
type Parser struct {
	mapper      *index.Mapper
	defaultSize float64
	rules       []rule
	context     Context
	logger      *zap.Logger
}

// New compiles the keyword table into the ordered rule list.
func New(mapper *index.Mapper, kw Keywords, defaultSize float64, logger *zap.Logger) (*Parser, error) {
	if mapper == nil {
		return nil, fmt.Errorf("parser: index mapper is required")
	}
	if defaultSize <= 0 {
		return nil, fmt.Errorf("parser: default size must be positive")
	}
	patterns, err := kw.compile()
	if err != nil {
		return nil, fmt.Errorf("parser: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Parser{mapper: mapper, defaultSize: defaultSize, logger: logger}

	keyword := func(category string) func(*message) bool {
		set := patterns[category]
		return func(m *message) bool { return set.any(m.text) }
	}

	// First match wins. PARTIAL CLOSE has to stay ahead of the generic
	// close patterns.
	p.rules = []rule{
		{"open trade", isFullAlert, p.parseFullAlert},
		{"stop loss alert", keyword(CategoryStopLossAlert), p.parseStopLossReset},
		{"pnl query", isPnLQuery, parsePnLQuery},
		{"partial close", keyword(CategoryPartialClose), p.closeParser(instruction.PartialClose)},
		{"close previous", keyword(CategoryClosePrevious), p.parseClosePrevious},
		{"close specific", keyword(CategoryCloseSpecific), p.closeParser(instruction.CloseSinglePositions)},
		{"close all index", keyword(CategoryCloseAllIndex), p.closeParser(instruction.CloseAllIndexPositions)},
		{"close all trade", keyword(CategoryCloseAllTrade), p.closeParser(instruction.CloseAllTrade)},
		{"unrecognized", func(*message) bool { return true }, p.parseUnrecognized},
	}
	return p, nil
}

// Parse classifies text. On error the context is left untouched.
func (p *Parser) Parse(text string, edited bool) (*instruction.Instruction, error) {
	m := prepare(text, edited)
	ctx := p.context

	for _, r := range p.rules {
		if !r.match(m) {
			continue
		}

		in, err := r.parse(m, &ctx)
		if err != nil {
			p.logger.Debug("alert rejected", zap.String("rule", r.name), zap.Error(err))
			return nil, err
		}

		p.context = ctx
		p.logger.Debug("alert classified",
			zap.String("rule", r.name),
			zap.String("trade_type", string(in.TradeType)),
			zap.String("index", in.Index),
		)
		return in, nil
	}
	return nil, malformed("no rule matched")
}

// Context returns the index later ambiguous messages will use.
func (p *Parser) Context() (string, bool) {
	return p.context.Current()
}

// SetContext seeds the context, e.g. from an operator command.
func (p *Parser) SetContext(key string) error {
	if _, err := p.mapper.Lookup(key); err != nil {
		return err
	}
	p.context.Set(key)
	return nil
}

func isFullAlert(m *message) bool {
	return strings.Contains(m.text, "ENTRY") &&
		strings.Contains(m.text, "STOP") &&
		strings.Contains(m.text, "INDEX")
}

func isPnLQuery(m *message) bool {
	return strings.TrimSpace(m.text) == "GET PNL"
}

func parsePnLQuery(*message, *Context) (*instruction.Instruction, error) {
	return &instruction.Instruction{TradeType: instruction.GetCurrentPnL}, nil
}

func (p *Parser) parseFullAlert(m *message, ctx *Context) (*instruction.Instruction, error) {
	if len(m.lines) < 4 {
		return nil, malformed("trade alert needs 4 lines, got %d", len(m.lines))
	}

	entry, err := p.headerIndex(m.lines[0])
	if err != nil {
		return nil, err
	}
	in := &instruction.Instruction{Index: entry.Key, Symbol: entry.Symbol}

	if err := p.parseStop(m.lines[3], in); err != nil {
		return nil, err
	}

	if m.edited {
		if !in.StopLoss.Numeric() {
			return nil, malformed("edited alert carries no stop level")
		}
		in.TradeType = instruction.StopLossResetForLastTrade
		in.StopLossLevel = instruction.Price(in.StopLoss.Value)
		ctx.Set(entry.Key)
		return in, nil
	}

	if err := p.parseDirectionAndSize(m.lines[1], in); err != nil {
		return nil, err
	}
	if err := parseEntry(m.lines[2], in); err != nil {
		return nil, err
	}

	in.TradeType = instruction.OpenTrade
	ctx.Set(entry.Key)
	return in, nil
}

func (p *Parser) headerIndex(line string) (index.Entry, error) {
	if !strings.Contains(line, "INDEX") {
		return index.Entry{}, malformed("first line has no INDEX token")
	}

	candidate := line
	if sm := headerRe.FindStringSubmatch(line); sm != nil {
		candidate = sm[1]
	}
	if e, ok := p.mapper.Resolve(candidate); ok {
		return e, nil
	}
	if e, ok := p.mapper.Resolve(line); ok {
		return e, nil
	}
	return index.Entry{}, unresolved(fmt.Sprintf("unknown index in %q", line))
}

func (p *Parser) parseDirectionAndSize(line string, in *instruction.Instruction) error {
	eq := strings.Index(line, "=")
	if eq < 0 {
		return malformed("direction line has no '='")
	}

	fields := strings.Fields(line[eq+1:])
	if len(fields) == 0 {
		return malformed("direction line has nothing after '='")
	}
	in.Direction = instruction.Sell
	if fields[0] == "LONG" {
		in.Direction = instruction.Buy
	}

	sm := percentRe.FindStringSubmatch(line)
	if sm == nil {
		return malformed("direction line has no size percentage")
	}
	pct, err := strconv.ParseFloat(sm[1], 64)
	if err != nil {
		return malformed("bad size percentage %q", sm[1])
	}
	in.Size = instruction.Float(pct / 100 * p.defaultSize)
	return nil
}

func parseEntry(line string, in *instruction.Instruction) error {
	if emptyAssignment(entryMarkRe, line) {
		in.Entry = instruction.Literal(instruction.Market)
		return nil
	}
	if !strings.Contains(line, "ENTRY") {
		return nil
	}

	sm := entryNumRe.FindStringSubmatch(line)
	if sm == nil {
		return malformed("no entry price in %q", line)
	}
	v, err := parseNumber(sm[2])
	if err != nil {
		return malformed("bad entry price %q", sm[2])
	}
	in.Entry = instruction.Price(v)
	return nil
}

func (p *Parser) parseStop(line string, in *instruction.Instruction) error {
	if emptyAssignment(stopMarkRe, line) {
		dist := wideStopDistance
		if narrowStopIndices[in.Index] {
			dist = narrowStopDistance
		}
		in.StopLoss = instruction.Literal(instruction.Distance)
		in.StopLossDistance = instruction.Float(dist)
		return nil
	}
	if !strings.Contains(line, "STOP") {
		return nil
	}

	sm := stopNumRe.FindStringSubmatch(line)
	if sm == nil {
		return malformed("no stop price in %q", line)
	}
	v, err := parseNumber(sm[2])
	if err != nil {
		return malformed("bad stop price %q", sm[2])
	}
	in.StopLoss = instruction.Price(v)
	return nil
}

func (p *Parser) parseStopLossReset(m *message, ctx *Context) (*instruction.Instruction, error) {
	in := &instruction.Instruction{TradeType: instruction.StopLossReset}
	if err := p.resolveIndex(m, ctx, in); err != nil {
		return nil, err
	}

	in.StopLossLevel = instruction.Literal(instruction.Breakeven)
	if tok := levelRe.FindString(m.text); tok != "" {
		v, err := parseNumber(tok)
		if err != nil {
			return nil, malformed("bad stop level %q", tok)
		}
		in.StopLossLevel = instruction.Price(v)
	}
	return in, nil
}

func (p *Parser) parseClosePrevious(m *message, ctx *Context) (*instruction.Instruction, error) {
	n, ok := tradeCount(m.text)
	if !ok {
		return nil, malformed("no trade count in close request")
	}

	in := &instruction.Instruction{
		TradeType:      instruction.ClosePreviousTrades,
		NumberOfTrades: instruction.Int(n),
	}
	if err := p.resolveIndex(m, ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

func (p *Parser) closeParser(t instruction.TradeType) func(*message, *Context) (*instruction.Instruction, error) {
	return func(m *message, ctx *Context) (*instruction.Instruction, error) {
		in := &instruction.Instruction{TradeType: t}
		if err := p.resolveIndex(m, ctx, in); err != nil {
			return nil, err
		}
		return in, nil
	}
}

func (p *Parser) parseUnrecognized(m *message, ctx *Context) (*instruction.Instruction, error) {
	if e, ok := p.mapper.Resolve(m.text); ok {
		ctx.Set(e.Key)
	}
	current, ok := ctx.Current()
	if !ok {
		current = "NONE"
	}
	return &instruction.Instruction{
		TradeType: instruction.TradeType(fmt.Sprintf(unrecognizedFormat, current)),
	}, nil
}

// resolveIndex picks the index named in the text, else the context.
func (p *Parser) resolveIndex(m *message, ctx *Context, in *instruction.Instruction) error {
	var explicit string
	if e, ok := p.mapper.Resolve(m.text); ok {
		explicit = e.Key
	}

	key, err := ctx.ResolveWithContext(explicit)
	if err != nil {
		return err
	}
	e, err := p.mapper.Lookup(key)
	if err != nil {
		return unresolved(err.Error())
	}
	in.Index = e.Key
	in.Symbol = e.Symbol
	return nil
}

// emptyAssignment reports whether some "WORD=" in line is not followed
// by a digit after 0, 1, 2 or 4 spaces.
func emptyAssignment(re *regexp.Regexp, line string) bool {
	for _, loc := range re.FindAllStringIndex(line, -1) {
		if !digitAfterPadding(line[loc[1]:]) {
			return true
		}
	}
	return false
}

func digitAfterPadding(rest string) bool {
	for _, pad := range []string{"", " ", "  ", "    "} {
		if strings.HasPrefix(rest, pad) && len(rest) > len(pad) && isDigit(rest[len(pad)]) {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
