package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type quoteDoc struct {
	Bid float64 `yaml:"bid"`
	Ask float64 `yaml:"ask"`
}

// LoadQuotes reads a YAML map of symbol to {bid, ask} and applies it.
// It returns how many quotes were set.
func (b *Broker) LoadQuotes(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read quotes: %w", err)
	}

	var doc map[string]quoteDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse quotes %s: %w", path, err)
	}
	for symbol, q := range doc {
		if q.Bid <= 0 || q.Ask < q.Bid {
			return 0, fmt.Errorf("quote for %s: need 0 < bid <= ask", symbol)
		}
	}

	for symbol, q := range doc {
		b.SetQuote(symbol, q.Bid, q.Ask)
	}
	return len(doc), nil
}
