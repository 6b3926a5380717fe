// Package category describes the forum content partitions, the archive
// path layout and the commit message grammar shared by both repositories.
package category

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Category is one content partition with its own id space.
type Category struct {
	// Name is the path prefix, e.g. "group"
	Name string `mapstructure:"name"`

	// Tag is the commit message tag, e.g. "GROUP"
	Tag string `mapstructure:"tag"`

	// Holes enables gap detection; only sequential id spaces support it
	Holes bool `mapstructure:"holes"`

	// TracksDeletedReplies marks replies missing from a newer capture as
	// deleted instead of leaving them untouched
	TracksDeletedReplies bool `mapstructure:"tracks_deleted_replies"`
}

// Defaults is the category table used when configuration names none.
var Defaults = []Category{
	{Name: "group", Tag: "GROUP", Holes: true, TracksDeletedReplies: true},
	{Name: "subject", Tag: "SUBJECT", Holes: true},
	{Name: "blog", Tag: "BLOG", Holes: true},
	{Name: "ep", Tag: "EP"},
	{Name: "person", Tag: "PERSON"},
	{Name: "character", Tag: "CHARACTER"},
}

// Set indexes categories by name and by tag.
type Set struct {
	byName map[string]Category
	byTag  map[string]Category
	names  []string
}

// NewSet builds a Set. Names and tags must be unique.
func NewSet(categories []Category) (*Set, error) {
	s := &Set{
		byName: make(map[string]Category, len(categories)),
		byTag:  make(map[string]Category, len(categories)),
	}
	for _, c := range categories {
		if c.Name == "" || c.Tag == "" {
			return nil, fmt.Errorf("category needs both name and tag: %+v", c)
		}
		c.Tag = strings.ToUpper(c.Tag)
		if _, dup := s.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate category name %q", c.Name)
		}
		if _, dup := s.byTag[c.Tag]; dup {
			return nil, fmt.Errorf("duplicate category tag %q", c.Tag)
		}
		s.byName[c.Name] = c
		s.byTag[c.Tag] = c
		s.names = append(s.names, c.Name)
	}
	sort.Strings(s.names)
	return s, nil
}

// MustDefault returns the Set for Defaults.
func MustDefault() *Set {
	s, err := NewSet(Defaults)
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup returns the category with the given path name.
func (s *Set) Lookup(name string) (Category, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// ByTag returns the category declared by a commit message tag.
func (s *Set) ByTag(tag string) (Category, bool) {
	c, ok := s.byTag[strings.ToUpper(tag)]
	return c, ok
}

// Names returns category names in sorted order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of categories.
func (s *Set) Len() int {
	return len(s.names)
}

// ===================
// Path layout
// ===================

// Path returns the archive path of a content id: two levels of two-digit
// shards keep directories small, e.g. group/00/00/5.html.
func Path(name string, id int, ext string) string {
	return fmt.Sprintf("%s/%02d/%02d/%d%s", name, (id/10000)%100, (id/100)%100, id, ext)
}

// Ref identifies one archived file.
type Ref struct {
	Category string
	ID       int
	Ext      string
}

// ParsePath splits an archive path into category, id and extension.
// Paths outside the layout (meta files, READMEs) report false.
func ParsePath(p string) (Ref, bool) {
	p = path.Clean(strings.TrimPrefix(p, "/"))
	name, _, found := strings.Cut(p, "/")
	if !found || name == "" || strings.HasPrefix(name, ".") {
		return Ref{}, false
	}

	base := path.Base(p)
	ext := path.Ext(base)
	id, err := strconv.Atoi(strings.TrimSuffix(base, ext))
	if err != nil || id <= 0 {
		return Ref{}, false
	}

	return Ref{Category: name, ID: id, Ext: ext}, true
}

// MirrorPath swaps the extension of an archive path, keeping directories.
func MirrorPath(p, ext string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + ext
}

// ===================
// Commit messages
// ===================

// Subjects starting with an admin prefix carry no content.
var adminPrefixes = []string{"META", "init"}

// Message is a parsed commit message subject.
type Message struct {
	// Tag is the leading word, e.g. "GROUP" or "META"
	Tag string

	// Text is everything between the tag and the timestamp
	Text string

	// CaptureMS is the trailing epoch-millisecond timestamp
	CaptureMS int64

	// HasTime reports whether a timestamp was present
	HasTime bool

	// Admin marks subjects starting with META or init
	Admin bool
}

// ParseMessage parses `<TAG> <text> | <epoch-ms>`. Only the subject line
// is considered. Messages without a timestamp parse with HasTime false.
func ParseMessage(msg string) Message {
	subject, _, _ := strings.Cut(msg, "\n")
	subject = strings.TrimSpace(subject)

	var m Message
	if i := strings.LastIndex(subject, "|"); i >= 0 {
		if ms, err := strconv.ParseInt(strings.TrimSpace(subject[i+1:]), 10, 64); err == nil {
			m.CaptureMS = ms
			m.HasTime = true
			subject = strings.TrimSpace(subject[:i])
		}
	}

	tag, text, _ := strings.Cut(subject, " ")
	m.Tag = tag
	m.Text = strings.TrimSpace(text)
	for _, prefix := range adminPrefixes {
		if strings.HasPrefix(subject, prefix) {
			m.Admin = true
			break
		}
	}
	return m
}

// FormatMessage builds a message in the grammar ParseMessage reads.
func FormatMessage(tag, text string, captureMS int64) string {
	return fmt.Sprintf("%s %s | %d", tag, text, captureMS)
}
