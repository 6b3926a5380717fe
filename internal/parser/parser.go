// Package parser turns archived HTML pages into topic records.
//
// The forum changed its markup several times over the archive's life, so
// a page is parsed by the first registered strategy whose predicate
// accepts it. Strategies are registered newest layout first; older
// layouts act as fallbacks.
package parser

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/bgm-archive/archiver/internal/schema"
)

var (
	// ErrNoStrategy is returned when no registered layout recognizes a page.
	ErrNoStrategy = errors.New("no parser strategy matches page")

	// ErrNotTopic is returned when a layout matched but the page holds no
	// topic, e.g. a login wall or a rate-limit notice.
	ErrNotTopic = errors.New("page is not a topic")
)

// Page is the input handed to a strategy.
type Page struct {
	Doc      *goquery.Document
	ID       int
	Category string
}

// Strategy parses one markup revision.
type Strategy struct {
	// Name identifies the layout in logs
	Name string

	// Match reports whether the page uses this layout
	Match func(doc *goquery.Document) bool

	// Parse extracts the topic
	Parse func(p Page) (*schema.Topic, error)
}

// Parser is the port the conversion pipeline depends on.
type Parser interface {
	Parse(html []byte, id int, category string) (*schema.Topic, error)
}

// Registry is an ordered list of strategies. First match wins.
type Registry struct {
	strategies []Strategy
}

// NewRegistry returns a registry over strategies in priority order.
func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

// Default returns the registry with every known layout, newest first.
func Default() *Registry {
	return NewRegistry(Notice(), Current(), Legacy())
}

// Register appends a lower-priority strategy.
func (r *Registry) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
}

// Names lists strategy names in priority order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name
	}
	return names
}

// Parse selects a strategy and parses html. The result is validated.
func (r *Registry) Parse(html []byte, id int, category string) (*schema.Topic, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to read html: %w", err)
	}

	for _, s := range r.strategies {
		if !s.Match(doc) {
			continue
		}

		topic, err := s.Parse(Page{Doc: doc, ID: id, Category: category})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}

		topic.ID = id
		topic.Category = category
		if err := topic.Validate(); err != nil {
			return nil, fmt.Errorf("%s: invalid topic: %w", s.Name, err)
		}
		return topic, nil
	}

	return nil, ErrNoStrategy
}
