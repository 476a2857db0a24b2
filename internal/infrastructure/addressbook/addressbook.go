// Package addressbook maps agent addresses to the HTTP endpoints that accept
// their envelopes.
package addressbook

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrUnknownAgent = errors.New("agent not in address book")

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Entry is one reachable agent.
type Entry struct {
	Address  string   `yaml:"address"`
	Endpoint string   `yaml:"endpoint"`
	Token    string   `yaml:"token"`
	Timeout  Duration `yaml:"timeout"`
}

type file struct {
	Agents []Entry `yaml:"agents"`
}

// Book is an immutable address -> entry map.
type Book struct {
	entries map[string]Entry
}

// New builds a book from entries, rejecting duplicates and entries without
// an address or endpoint.
func New(entries []Entry) (*Book, error) {
	b := &Book{entries: make(map[string]Entry, len(entries))}
	for i, e := range entries {
		e.Address = strings.TrimSpace(e.Address)
		e.Endpoint = strings.TrimRight(strings.TrimSpace(e.Endpoint), "/")
		if e.Address == "" {
			return nil, fmt.Errorf("agents[%d]: address required", i)
		}
		if e.Endpoint == "" {
			return nil, fmt.Errorf("agents[%d] %s: endpoint required", i, e.Address)
		}
		if _, dup := b.entries[e.Address]; dup {
			return nil, fmt.Errorf("agents[%d]: duplicate address %s", i, e.Address)
		}
		b.entries[e.Address] = e
	}
	return b, nil
}

// Load reads a YAML address book. An empty path yields an empty book.
func Load(path string) (*Book, error) {
	if path == "" {
		return &Book{entries: map[string]Entry{}}, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open address book: %w", err)
	}
	defer fh.Close()

	var f file
	dec := yaml.NewDecoder(fh)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode address book: %w", err)
	}
	return New(f.Agents)
}

// Lookup returns the entry for address.
func (b *Book) Lookup(address string) (Entry, error) {
	if b == nil {
		return Entry{}, ErrUnknownAgent
	}
	e, ok := b.entries[address]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownAgent, address)
	}
	return e, nil
}

// Len returns the number of entries.
func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}
