package remote

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	errs "coursedump/pkg/errors"
	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
)

const (
	eventTargetField   = "__EVENTTARGET"
	eventArgumentField = "__EVENTARGUMENT"

	// DefaultBackpatchIndex is the position in the Next button id that holds
	// the separator the postback expects as '$'
	DefaultBackpatchIndex = 6
	// ListBackpatchIndex is the same position on the course and project lists
	ListBackpatchIndex = 5
	// DiscussionBackpatchIndex is the same position on discussion forums
	DiscussionBackpatchIndex = 7
)

var nextTitles = map[string]bool{"Next": true, "Neste": true}

// ParseFunc extracts the entries of one listing page. offset is the number
// of entries returned by the earlier pages.
type ParseFunc func(doc *goquery.Document, offset int) ([]models.Node, error)

// DecodeFunc extracts the entries of one indexed page. offset is the number
// of entries returned by the earlier pages.
type DecodeFunc func(body []byte, offset int) ([]models.Node, error)

// FormPage is one page of a server-rendered listing. The next page is
// requested by posting the page's form back with the Next button as the
// event target.
type FormPage struct {
	client    *Client
	locator   string
	doc       *goquery.Document
	parse     ParseFunc
	backpatch int
	offset    int
	entries   []models.Node
	target    string
}

// NewFormPage parses doc, which was loaded from locator
func NewFormPage(client *Client, locator string, doc *goquery.Document, parse ParseFunc, backpatch int) (*FormPage, error) {
	return newFormPage(client, locator, doc, parse, backpatch, 0)
}

func newFormPage(client *Client, locator string, doc *goquery.Document, parse ParseFunc, backpatch, offset int) (*FormPage, error) {
	entries, err := parse(doc, offset)
	if err != nil {
		return nil, err
	}
	target, err := nextEventTarget(doc, backpatch)
	if err != nil {
		return nil, errs.Pagination("next marker", locator, err)
	}
	return &FormPage{
		client:    client,
		locator:   locator,
		doc:       doc,
		parse:     parse,
		backpatch: backpatch,
		offset:    offset,
		entries:   entries,
		target:    target,
	}, nil
}

func (p *FormPage) Entries() []models.Node { return p.entries }

func (p *FormPage) HasNext() bool { return p.target != "" }

// Advance posts the page back to load the next one
func (p *FormPage) Advance(ctx context.Context) (paginate.Page, error) {
	if !p.HasNext() {
		return nil, errs.Pagination("advance", p.locator, fmt.Errorf("no next page"))
	}

	form, err := postbackForm(p.doc)
	if err != nil {
		return nil, errs.Pagination("advance", p.locator, err)
	}
	form.Set(eventTargetField, p.target)
	form.Set(eventArgumentField, "")

	body, err := p.client.PostForm(ctx, p.locator, form, p.locator)
	if err != nil {
		return nil, errs.Pagination("advance", p.locator, err)
	}
	doc, err := parseDocument(p.locator, body)
	if err != nil {
		return nil, errs.Pagination("advance", p.locator, err)
	}
	next, err := newFormPage(p.client, p.locator, doc, p.parse, p.backpatch, p.offset+len(p.entries))
	if err != nil {
		if errs.Is(err, errs.KindPagination) {
			return nil, err
		}
		return nil, errs.Pagination("advance", p.locator, err)
	}
	return next, nil
}

// nextEventTarget finds the postback event of the Next button. An empty
// result means this is the last page.
func nextEventTarget(doc *goquery.Document, backpatch int) (string, error) {
	var id string
	found := false
	doc.Find(".previous-next").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		first := s.Children().First()
		if first.Length() == 0 || !nextTitles[first.AttrOr("title", "")] {
			return true
		}
		id = first.AttrOr("id", "")
		found = true
		return false
	})
	if !found {
		return "", nil
	}
	if backpatch < 0 || backpatch >= len(id) {
		return "", fmt.Errorf("next button id %q is too short", id)
	}
	return id[:backpatch] + "$" + id[backpatch+1:], nil
}

// postbackForm returns the values of the form carrying the postback fields
func postbackForm(doc *goquery.Document) (url.Values, error) {
	form := doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find(fmt.Sprintf("input[name=%q]", eventTargetField)).Length() > 0
	}).First()
	if form.Length() == 0 {
		return nil, fmt.Errorf("no postback form found on page")
	}
	return formValues(form), nil
}

// formValues collects what a browser would submit for form
func formValues(form *goquery.Selection) url.Values {
	values := url.Values{}

	form.Find("input").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := s.Attr("checked"); !checked {
				return
			}
			values.Add(name, s.AttrOr("value", "on"))
		default:
			values.Add(name, s.AttrOr("value", ""))
		}
	})

	form.Find("select").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		option := s.Find("option[selected]").First()
		if option.Length() == 0 {
			option = s.Find("option").First()
		}
		if option.Length() == 0 {
			return
		}
		values.Add(name, option.AttrOr("value", strings.TrimSpace(option.Text())))
	})

	form.Find("textarea").Each(func(_ int, s *goquery.Selection) {
		if name, ok := s.Attr("name"); ok && name != "" {
			values.Add(name, s.Text())
		}
	})

	return values
}

// IndexedPage is one page of a JSON listing addressed by page number
type IndexedPage struct {
	client  *Client
	pattern string
	index   int
	offset  int
	decode  DecodeFunc
	entries []models.Node
}

// LoadIndexedPage fetches page index of pattern, which must contain a
// single %d verb
func LoadIndexedPage(ctx context.Context, client *Client, pattern string, index, offset int, decode DecodeFunc) (*IndexedPage, error) {
	locator := fmt.Sprintf(pattern, index)
	body, err := client.Fetch(ctx, locator)
	if err != nil {
		return nil, err
	}
	entries, err := decode(body, offset)
	if err != nil {
		return nil, errs.Pagination("decode page", locator, err)
	}
	return &IndexedPage{
		client:  client,
		pattern: pattern,
		index:   index,
		offset:  offset,
		decode:  decode,
		entries: entries,
	}, nil
}

func (p *IndexedPage) Entries() []models.Node { return p.entries }

// HasNext reports true for every non-empty page. The first empty page ends
// the listing.
func (p *IndexedPage) HasNext() bool { return len(p.entries) > 0 }

func (p *IndexedPage) Advance(ctx context.Context) (paginate.Page, error) {
	if !p.HasNext() {
		return nil, errs.Pagination("advance", fmt.Sprintf(p.pattern, p.index), fmt.Errorf("no next page"))
	}
	next, err := LoadIndexedPage(ctx, p.client, p.pattern, p.index+1, p.offset+len(p.entries), p.decode)
	if err != nil {
		if errs.Is(err, errs.KindPagination) {
			return nil, err
		}
		return nil, errs.Pagination("advance", fmt.Sprintf(p.pattern, p.index+1), err)
	}
	return next, nil
}
