// Package catalog holds the fixed, ordered message catalog and the selectors
// that pick a message for a given day.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

var (
	ErrEmpty    = errors.New("catalog: no messages")
	ErrNotFound = errors.New("catalog: message not found")
)

//go:embed messages.json
var defaultMessages []byte

// Message is one catalog entry. The JSON shape matches what the HTTP API returns.
type Message struct {
	ID   int    `json:"id" yaml:"id"`
	Text string `json:"message" yaml:"message"`
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	msgs []Message
	byID map[int]int
}

// New validates msgs and copies them in order.
func New(msgs []Message) (*Catalog, error) {
	if len(msgs) == 0 {
		return nil, ErrEmpty
	}
	c := &Catalog{
		msgs: make([]Message, 0, len(msgs)),
		byID: make(map[int]int, len(msgs)),
	}
	for i, m := range msgs {
		m.Text = strings.TrimSpace(m.Text)
		if m.Text == "" {
			return nil, fmt.Errorf("catalog: message #%d (id %d) is empty", i, m.ID)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate id %d", m.ID)
		}
		c.byID[m.ID] = len(c.msgs)
		c.msgs = append(c.msgs, m)
	}
	return c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultMessages, ".json")
	if err != nil {
		panic("catalog: embedded messages are invalid: " + err.Error())
	}
	return c
}

// Load reads a catalog from a JSON or YAML file. An empty path yields Default().
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(b, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

type fileShape struct {
	Messages []Message `json:"messages" yaml:"messages"`
}

// Parse accepts either a bare list of messages or an object with a "messages" key.
// ext selects YAML for ".yaml"/".yml"; anything else is JSON.
func Parse(b []byte, ext string) (*Catalog, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, ErrEmpty
	}
	var msgs []Message
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &msgs); err != nil {
			var fs fileShape
			if err2 := yaml.Unmarshal(b, &fs); err2 != nil {
				return nil, fmt.Errorf("catalog: parse yaml: %w", err)
			}
			msgs = fs.Messages
		}
	default:
		if b[0] == '[' {
			if err := json.Unmarshal(b, &msgs); err != nil {
				return nil, fmt.Errorf("catalog: parse json: %w", err)
			}
		} else {
			var fs fileShape
			if err := json.Unmarshal(b, &fs); err != nil {
				return nil, fmt.Errorf("catalog: parse json: %w", err)
			}
			msgs = fs.Messages
		}
	}
	return New(msgs)
}

func (c *Catalog) Len() int { return len(c.msgs) }

// At returns the message at position i (catalog order).
func (c *Catalog) At(i int) Message { return c.msgs[i] }

// Messages returns a copy of all messages in catalog order.
func (c *Catalog) Messages() []Message {
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *Catalog) ByID(id int) (Message, error) {
	i, ok := c.byID[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return c.msgs[i], nil
}
