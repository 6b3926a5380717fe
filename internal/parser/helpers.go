package parser

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/bgm-archive/archiver/internal/schema"
)

// forumZone is the timezone dates are rendered in.
var forumZone = time.FixedZone("CST", 8*60*60)

var (
	datePattern = regexp.MustCompile(`(\d{4}-\d{1,2}-\d{1,2} \d{1,2}:\d{2})`)
	digits      = regexp.MustCompile(`\d+`)
)

// idFromAttr extracts the trailing number of an attribute such as
// id="post_123".
func idFromAttr(s *goquery.Selection, attr string) int64 {
	v, ok := s.Attr(attr)
	if !ok {
		return 0
	}
	m := digits.FindAllString(v, -1)
	if len(m) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(m[len(m)-1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// intAttr reads a numeric attribute, zero when absent or malformed.
func intAttr(s *goquery.Selection, attr string) int64 {
	v, ok := s.Attr(attr)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// lastSegment returns the final path element of an href.
func lastSegment(href string) string {
	href = strings.TrimRight(href, "/")
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	return path.Base(href)
}

// parseDateline reads "2006-1-2 15:04" out of free text.
func parseDateline(text string) int64 {
	m := datePattern.FindString(text)
	if m == "" {
		return 0
	}
	t, err := time.ParseInLocation("2006-1-2 15:04", m, forumZone)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// dateline prefers the data-dateline attribute and falls back to the
// rendered post date.
func dateline(s *goquery.Selection, textSel string) int64 {
	if n := intAttr(s, "data-dateline"); n > 0 {
		return n
	}
	return parseDateline(s.Find(textSel).First().Text())
}

// content returns the trimmed inner HTML of the first match.
func content(s *goquery.Selection, sel string) string {
	html, err := s.Find(sel).First().Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(html)
}

// parseLikes reads reaction grids: one grid per post, one item per value.
func parseLikes(doc *goquery.Document) []schema.Like {
	var likes []schema.Like
	doc.Find(".likes_grid").Each(func(_ int, grid *goquery.Selection) {
		pid := idFromAttr(grid, "id")
		if pid <= 0 {
			return
		}
		grid.Find("[data-like-value]").Each(func(_ int, item *goquery.Selection) {
			value := intAttr(item, "data-like-value")
			total, err := strconv.Atoi(strings.TrimSpace(item.Find(".num").Text()))
			if err != nil || total < 0 {
				return
			}
			likes = append(likes, schema.Like{PostID: pid, Value: int(value), Total: total})
		})
	})
	return likes
}

// finish fills the topic fields derived from its posts.
func finish(t *schema.Topic) {
	if len(t.Posts) == 0 {
		return
	}
	t.Creator = t.Posts[0].User
	t.CreatedAt = t.Posts[0].Dateline
	for _, p := range t.Posts {
		if p.Dateline > t.UpdatedAt {
			t.UpdatedAt = p.Dateline
		}
	}
	if t.State == "" {
		t.State = schema.StateNormal
	}
}
