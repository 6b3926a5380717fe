package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bgm-archive/archiver/internal/schema"
)

// Notice recognizes the error page served for deleted, private and
// missing topics. Such pages become hidden topics.
func Notice() Strategy {
	return Strategy{
		Name: "notice",
		Match: func(doc *goquery.Document) bool {
			return doc.Find("#colunmNotice").Length() > 0 && doc.Find(".postTopic").Length() == 0
		},
		Parse: func(p Page) (*schema.Topic, error) {
			text := strings.TrimSpace(p.Doc.Find("#colunmNotice .text").Text())
			if text == "" {
				return nil, ErrNotTopic
			}
			return &schema.Topic{
				Title:  text,
				State:  schema.StateDeleted,
				Hidden: true,
				Posts:  []schema.Post{},
			}, nil
		},
	}
}

// Current parses the layout with data-item-user attributes on every post
// and nested sub-replies.
func Current() Strategy {
	return Strategy{
		Name: "current",
		Match: func(doc *goquery.Document) bool {
			return doc.Find(".postTopic[data-item-user]").Length() > 0
		},
		Parse: func(p Page) (*schema.Topic, error) {
			doc := p.Doc
			t := &schema.Topic{
				Title:    strings.TrimSpace(doc.Find("#pageHeader h1 span").Last().Text()),
				ParentID: lastSegment(doc.Find("#pageHeader h1 a.avatar").AttrOr("href", "")),
			}

			opening := doc.Find(".postTopic").First()
			t.Posts = append(t.Posts, currentPost(opening, ".topic_content", 0))

			doc.Find("#comment_list > .row_reply").Each(func(_ int, row *goquery.Selection) {
				post := currentPost(row, ".reply_content > .message", 0)
				t.Posts = append(t.Posts, post)
				row.Find(".sub_reply_bg").Each(func(_ int, sub *goquery.Selection) {
					t.Posts = append(t.Posts, currentPost(sub, ".cmt_sub_content", post.ID))
				})
			})

			if t.Posts[0].ID <= 0 {
				return nil, ErrNotTopic
			}
			if doc.Find(".topic_closed, .tip_closed").Length() > 0 {
				t.State = schema.StateClosed
			} else if doc.Find(".tip_silent").Length() > 0 {
				t.State = schema.StateSilent
			}
			t.Likes = parseLikes(doc)
			finish(t)
			return t, nil
		},
	}
}

func currentPost(s *goquery.Selection, contentSel string, replyTo int64) schema.Post {
	post := schema.Post{
		ID: idFromAttr(s, "id"),
		User: schema.User{
			ID:       intAttr(s, "data-item-uid"),
			Username: s.AttrOr("data-item-user", ""),
			Nickname: strings.TrimSpace(s.Find("strong a.l").First().Text()),
		},
		Content:  content(s, contentSel),
		Dateline: dateline(s, ".post_actions small, .re_info small"),
		ReplyTo:  replyTo,
	}
	if s.HasClass("reply_collapse") || s.Find(".reply_collapse").Length() > 0 {
		post.State = schema.StateDeleted
	}
	return post
}

// Legacy parses the older layout where the poster is only known from the
// avatar link and replies are flat.
func Legacy() Strategy {
	return Strategy{
		Name: "legacy",
		Match: func(doc *goquery.Document) bool {
			return doc.Find(".postTopic").Length() > 0
		},
		Parse: func(p Page) (*schema.Topic, error) {
			doc := p.Doc
			t := &schema.Topic{
				Title:    strings.TrimSpace(doc.Find("#pageHeader h1").Contents().Last().Text()),
				ParentID: lastSegment(doc.Find("#pageHeader h1 a").First().AttrOr("href", "")),
			}

			opening := doc.Find(".postTopic").First()
			t.Posts = append(t.Posts, legacyPost(opening, ".topic_content"))
			doc.Find("#comment_list .row_reply").Each(func(_ int, row *goquery.Selection) {
				t.Posts = append(t.Posts, legacyPost(row, ".message"))
			})

			if t.Posts[0].ID <= 0 {
				return nil, ErrNotTopic
			}
			t.Title = strings.TrimLeft(t.Title, " »")
			finish(t)
			return t, nil
		},
	}
}

func legacyPost(s *goquery.Selection, contentSel string) schema.Post {
	return schema.Post{
		ID: idFromAttr(s, "id"),
		User: schema.User{
			Username: lastSegment(s.Find("a.avatar").First().AttrOr("href", "")),
			Nickname: strings.TrimSpace(s.Find("strong a.l").First().Text()),
		},
		Content:  content(s, contentSel),
		Dateline: dateline(s, ".re_info small"),
	}
}
