package index

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoEntries is returned when a table defines no indices
	ErrNoEntries = errors.New("index table has no entries")
	// ErrUnknownIndex is returned when a key is not configured
	ErrUnknownIndex = errors.New("unknown index")
)

// Entry maps a canonical index key to its broker symbol and the
// alias substrings used to spot it in free text.
type Entry struct {
	Key     string   `yaml:"key" json:"key"`
	Symbol  string   `yaml:"symbol" json:"symbol"`
	Options []string `yaml:"options" json:"options"`
}

// Mapper is the read-only index table. Entries keep their configured
// order; resolution walks them front to back.
type Mapper struct {
	entries []Entry
	byKey   map[string]int
}

// New builds a mapper from entries in priority order.
func New(entries []Entry) (*Mapper, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	m := &Mapper{
		entries: make([]Entry, 0, len(entries)),
		byKey:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		key := strings.ToUpper(strings.TrimSpace(e.Key))
		if key == "" {
			return nil, fmt.Errorf("index entry with empty key")
		}
		if e.Symbol == "" {
			return nil, fmt.Errorf("index %s: symbol is required", key)
		}
		if _, dup := m.byKey[key]; dup {
			return nil, fmt.Errorf("index %s: defined twice", key)
		}

		options := make([]string, 0, len(e.Options))
		for _, o := range e.Options {
			if o = strings.ToUpper(strings.TrimSpace(o)); o != "" {
				options = append(options, o)
			}
		}

		m.byKey[key] = len(m.entries)
		m.entries = append(m.entries, Entry{Key: key, Symbol: e.Symbol, Options: options})
	}
	return m, nil
}

// Default returns the stock table for the five traded indices.
func Default() *Mapper {
	m, err := New([]Entry{
		{Key: "NASDAQ", Symbol: "USTEC", Options: []string{"NASDAQ", "NAS100", "US100", "USTEC", "TECH 100"}},
		{Key: "DAX", Symbol: "DE40", Options: []string{"DAX", "DE40", "DE30", "GER40", "GER30"}},
		{Key: "FTSE", Symbol: "UK100", Options: []string{"FTSE", "UK100"}},
		{Key: "DOW", Symbol: "US30", Options: []string{"DOW", "US30", "DJI", "WALL STREET"}},
		{Key: "BITCOIN", Symbol: "BTCUSD", Options: []string{"BITCOIN", "BTC"}},
	})
	if err != nil {
		panic(err)
	}
	return m
}

// Resolve returns the first configured entry whose alias occurs in
// candidate, or whose key equals candidate.
func (m *Mapper) Resolve(candidate string) (Entry, bool) {
	if candidate == "" {
		return Entry{}, false
	}
	for _, e := range m.entries {
		if candidate == e.Key {
			return e, true
		}
		for _, o := range e.Options {
			if strings.Contains(candidate, o) {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// Lookup returns the entry configured under key.
func (m *Mapper) Lookup(key string) (Entry, error) {
	i, ok := m.byKey[key]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownIndex, key)
	}
	return m.entries[i], nil
}

// KeyForSymbol maps a broker symbol back to its index key.
func (m *Mapper) KeyForSymbol(symbol string) (string, bool) {
	for _, e := range m.entries {
		if e.Symbol == symbol {
			return e.Key, true
		}
	}
	return "", false
}

// Keys lists the index keys in configured order.
func (m *Mapper) Keys() []string {
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the table.
func (m *Mapper) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

type tableEntry struct {
	Symbol  string   `yaml:"SYMBOL"`
	Options []string `yaml:"OPTIONS"`
}

// Load reads an index table from a YAML or JSON file. Two shapes are
// accepted: a mapping of KEY -> {SYMBOL, OPTIONS} (document order is
// the resolution order) or {indices: [{key, symbol, options}]}.
func Load(path string) (*Mapper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index table: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("index table %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes an index table document.
func Parse(data []byte) (*Mapper, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse index table: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, ErrNoEntries
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("index table must be a mapping")
	}

	if len(root.Content) == 2 && root.Content[0].Value == "indices" {
		var list []Entry
		if err := root.Content[1].Decode(&list); err != nil {
			return nil, fmt.Errorf("decode indices: %w", err)
		}
		return New(list)
	}

	entries := make([]Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		var te tableEntry
		if err := root.Content[i+1].Decode(&te); err != nil {
			return nil, fmt.Errorf("decode index %s: %w", root.Content[i].Value, err)
		}
		entries = append(entries, Entry{Key: root.Content[i].Value, Symbol: te.Symbol, Options: te.Options})
	}
	return New(entries)
}

// Save writes the table in the KEY -> {SYMBOL, OPTIONS} shape.
func (m *Mapper) Save(path string) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range m.entries {
		var val yaml.Node
		if err := val.Encode(tableEntry{Symbol: e.Symbol, Options: e.Options}); err != nil {
			return fmt.Errorf("encode index %s: %w", e.Key, err)
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Key},
			&val,
		)
	}

	data, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("marshal index table: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write index table: %w", err)
	}
	return nil
}
