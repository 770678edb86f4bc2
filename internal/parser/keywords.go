package parser

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Keyword categories, as named in the keyword table.
const (
	CategoryStopLossAlert = "STOP LOSS ALERT"
	CategoryPartialClose  = "PARTIAL CLOSE"
	CategoryClosePrevious = "CLOSE MOST PREVIOUS TRADES"
	CategoryCloseSpecific = "CLOSE SPECIFIC TRADES"
	CategoryCloseAllIndex = "CLOSE ALL INDEX TRADES"
	CategoryCloseAllTrade = "CLOSE ALL TRADE"
)

var categories = []string{
	CategoryStopLossAlert,
	CategoryPartialClose,
	CategoryClosePrevious,
	CategoryCloseSpecific,
	CategoryCloseAllIndex,
	CategoryCloseAllTrade,
}

// Keywords maps a category to the regex patterns that select it.
// Patterns are matched against the upper-cased message.
type Keywords map[string][]string

// DefaultKeywords covers the alert vocabulary of the signal channel.
func DefaultKeywords() Keywords {
	return Keywords{
		CategoryStopLossAlert: {
			`STOP LOSS TO`,
			`MOVE (THE )?STOPS?`,
			`STOPS? (MOVED|ADJUSTED)`,
			`SL TO`,
			`STOP TO BREAK ?EVEN`,
		},
		CategoryPartialClose: {
			`PARTIAL`,
			`PART OF THE`,
			`CLOSE HALF`,
		},
		CategoryClosePrevious: {
			`TAKE PROFIT ON`,
			`CLOSE (THE )?(LAST|PREVIOUS) (ONE|TWO|THREE|FOUR|[1-4])`,
			`CLOSE (ONE|TWO|THREE|FOUR|BOTH|[1-4]) (TRADES?|POSITIONS?)`,
		},
		CategoryCloseSpecific: {
			`CLOSE (THE )?(OLDEST|FIRST) (TRADE|POSITION)`,
			`CLOSE SINGLE`,
		},
		CategoryCloseAllIndex: {
			`CLOSE TRADE ALERT`,
			`CLOSING [A-Z0-9 ]*INDEX`,
			`CLOSE ALL [A-Z0-9 ]*INDEX`,
		},
		CategoryCloseAllTrade: {
			`CLOSE ALL TRADES`,
			`CLOSE ALL POSITIONS`,
			`CLOSE EVERYTHING`,
		},
	}
}

// LoadKeywords reads a keyword table from a YAML or JSON file.
func LoadKeywords(path string) (Keywords, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword table: %w", err)
	}

	var kw Keywords
	if err := yaml.Unmarshal(data, &kw); err != nil {
		return nil, fmt.Errorf("parse keyword table %s: %w", path, err)
	}
	if _, err := kw.compile(); err != nil {
		return nil, fmt.Errorf("keyword table %s: %w", path, err)
	}
	return kw, nil
}

// Save writes the table as YAML.
func (k Keywords) Save(path string) error {
	data, err := yaml.Marshal(map[string][]string(k))
	if err != nil {
		return fmt.Errorf("marshal keyword table: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write keyword table: %w", err)
	}
	return nil
}

type patternSet []*regexp.Regexp

func (p patternSet) any(text string) bool {
	for _, re := range p {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (k Keywords) compile() (map[string]patternSet, error) {
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		known[c] = true
	}

	out := make(map[string]patternSet, len(categories))
	for category, patterns := range k {
		if !known[category] {
			return nil, fmt.Errorf("unknown keyword category %q", category)
		}
		set := make(patternSet, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("category %s: bad pattern %q: %w", category, p, err)
			}
			set = append(set, re)
		}
		out[category] = set
	}
	return out, nil
}
