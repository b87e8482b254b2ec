package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	errs "coursedump/pkg/errors"
	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
)

const (
	// bulletinListID holds the bulletin list on a course dashboard
	bulletinListID = "ctl00_ContentPlaceHolder_DashboardLayout_ctl04_ctl03_CT"
	// oldBulletinListID is the second dashboard slot old style boards use
	oldBulletinListID = "ctl00_ContentPlaceHolder_DashboardLayout_ctl04_ctl04_CT"

	initialPageDataField = `"InitialPageData"`
)

var emptyBoardMarkers = []string{"No bulletins", "Ingen oppslag"}

// Bulletin is one post of a bulletin board, carried inline on its node
type Bulletin struct {
	Author  string `json:"author"`
	Posted  string `json:"posted,omitempty"`
	Subject string `json:"subject,omitempty"`
	// Body is the post as HTML
	Body     string    `json:"body"`
	Comments []Comment `json:"comments,omitempty"`
	// MoreComments locates the comments the page left out
	MoreComments string `json:"more_comments,omitempty"`
}

// Comment is a reply to a bulletin
type Comment struct {
	ID       json.RawMessage `json:"Id,omitempty"`
	UserName string          `json:"UserName"`
	Posted   string          `json:"DateTimeTooltip"`
	Text     string          `json:"CommentText"`
}

// CommentBatch is the answer of the comment service
type CommentBatch struct {
	Items []Comment `json:"Items"`
}

// DecodeBulletin parses the inline payload of a bulletin node
func DecodeBulletin(raw []byte) (*Bulletin, error) {
	var b Bulletin
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode bulletin: %w", err)
	}
	return &b, nil
}

// DecodeComments parses a comment service response
func DecodeComments(raw []byte) ([]Comment, error) {
	var batch CommentBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}
	return batch.Items, nil
}

// commentModule is the script object a course page embeds per bulletin
type commentModule struct {
	DataSource struct {
		VirtualCount int       `json:"VirtualCount"`
		Items        []Comment `json:"Items"`
	} `json:"DataSource"`
	UserData struct {
		SourceID   json.RawMessage `json:"sourceId"`
		SourceType json.RawMessage `json:"sourceType"`
	} `json:"UserData"`
	PreviouslyRead json.RawMessage `json:"NumberOfPreviouslyReadItemsToDisplay"`
	LastFirst      json.RawMessage `json:"UsePersonNameFormatLastFirst"`
}

// boardCursor is the paging state of a course bulletin board
type boardCursor struct {
	NeedToShowMore bool  `json:"NeedToShowMore"`
	BoundaryID     int64 `json:"BoundaryLightBulletinId"`
	BoundaryTicks  int64 `json:"BoundaryLightBulletinCreatedTicks"`
}

// BulletinPage is one batch of a bulletin board. Later batches are requested
// with the boundary of the last bulletin shown.
type BulletinPage struct {
	site     *Site
	courseID string
	entries  []models.Node
	cursor   *boardCursor
	offset   int
}

func (p *BulletinPage) Entries() []models.Node { return p.entries }

func (p *BulletinPage) HasNext() bool {
	return p.cursor != nil && p.cursor.NeedToShowMore && p.site.opts.BulletinPagePath != ""
}

// Advance loads the next batch of bulletins
func (p *BulletinPage) Advance(ctx context.Context) (paginate.Page, error) {
	if !p.HasNext() {
		return nil, errs.Pagination("advance", "bulletins", fmt.Errorf("no next page"))
	}
	locator := fmt.Sprintf(p.site.opts.BulletinPagePath, p.courseID, p.cursor.BoundaryID, p.cursor.BoundaryTicks)
	body, err := p.site.client.Fetch(ctx, locator)
	if err != nil {
		return nil, errs.Pagination("advance", locator, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Pagination("advance", locator, err)
	}

	next := &BulletinPage{site: p.site, courseID: p.courseID, offset: p.offset + len(p.entries)}
	var bulletins []Bulletin
	doc.Find("body").Children().EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if data, ok := el.Attr("data-pagedata"); ok && strings.Contains(data, "NeedToShowMore") {
			var cursor boardCursor
			if err := json.Unmarshal([]byte(data), &cursor); err != nil {
				p.site.logger.WithError(err).Warn("Could not read the bulletin paging data")
				return false
			}
			next.cursor = &cursor
			return false
		}
		bulletins = append(bulletins, p.site.lightBulletin(string(body), el))
		return true
	})

	if next.entries, err = bulletinNodes(bulletins, next.offset); err != nil {
		return nil, errs.Pagination("advance", locator, err)
	}
	return next, nil
}

// listBulletins reads the bulletin board of a course or project. Course
// boards come in a paged style and an older list style; project boards list
// news items.
func (s *Site) listBulletins(ctx context.Context, node models.Node) (paginate.Page, error) {
	body, err := s.client.Fetch(ctx, node.Locator)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(node.Locator, body)
	if err != nil {
		return nil, err
	}
	raw := string(body)

	page := &BulletinPage{site: s, courseID: node.RemoteID}
	var bulletins []Bulletin

	if list, ok := lightBulletinList(doc); ok {
		if !containsAny(list.Children().First().Text(), emptyBoardMarkers) {
			list.Children().Each(func(i int, el *goquery.Selection) {
				if i == 0 && el.HasClass("itsl-light-bulletins-new-item-listitem") {
					return
				}
				bulletins = append(bulletins, s.lightBulletin(raw, el))
			})
			if page.cursor, err = initialCursor(raw); err != nil {
				s.logger.WithError(err).WarnWithFields("Could not read the bulletin paging data", map[string]interface{}{
					"locator": node.Locator,
				})
			}
		}
	}

	bulletins = append(bulletins, oldBulletins(doc)...)
	bulletins = append(bulletins, newsItems(doc)...)

	if page.entries, err = bulletinNodes(bulletins, 0); err != nil {
		return nil, errs.Extraction("list bulletins", node.RemoteID, node.Locator, err)
	}
	return page, nil
}

// lightBulletinList finds the list of the paged style board. Its element
// carries the editor template attribute only in that style.
func lightBulletinList(doc *goquery.Document) (*goquery.Selection, bool) {
	list := doc.Find("#" + bulletinListID).Children().First().Children().First()
	if list.Length() == 0 {
		return nil, false
	}
	_, ok := list.Attr("data-bulletin-item-editor-template")
	return list, ok
}

// lightBulletin reads one post of the paged style board. Its comments sit in
// a script line of the raw page next to the comment module registration.
func (s *Site) lightBulletin(raw string, el *goquery.Selection) Bulletin {
	content := el.Find(".itsl-light-bulletins-list-item-text").First()
	b := Bulletin{
		Author: strings.TrimSpace(el.Find(".itsl-light-bulletins-person-name").First().Text()),
		Body:   content.AttrOr("data-text", ""),
	}

	id := el.Children().First().AttrOr("data-bulletin-id", "")
	module, err := findCommentModule(raw, id)
	if err != nil {
		s.logger.WithError(err).WarnWithFields("Could not read bulletin comments", map[string]interface{}{
			"bulletin_id": id,
		})
	}
	if module == nil || module.DataSource.VirtualCount == 0 {
		return b
	}

	items := module.DataSource.Items
	b.Comments = items
	if len(items) > 0 && len(items) < module.DataSource.VirtualCount && s.opts.CommentServicePath != "" {
		b.MoreComments = fmt.Sprintf(s.opts.CommentServicePath,
			rawValue(module.UserData.SourceID),
			rawValue(module.UserData.SourceType),
			rawValue(items[0].ID),
			module.DataSource.VirtualCount,
			rawValue(module.PreviouslyRead),
			rawValue(module.LastFirst),
		)
	}
	return b
}

// findCommentModule cuts the JSON object out of the script line following
// the registration of the bulletin's comment module. A page without it
// returns nil.
func findCommentModule(raw, bulletinID string) (*commentModule, error) {
	if bulletinID == "" {
		return nil, nil
	}
	marker := "CCL.CommentModule['CommentModule_LightBulletin_" + bulletinID + "_CommentModule'] = true;"
	at := strings.Index(raw, marker)
	if at < 0 {
		return nil, nil
	}

	rest := raw[at:]
	lineStart := strings.IndexByte(rest, '\n')
	if lineStart < 0 {
		return nil, fmt.Errorf("comment data missing after module registration")
	}
	rest = rest[lineStart+1:]
	if lineEnd := strings.IndexByte(rest, '\n'); lineEnd >= 0 {
		rest = rest[:lineEnd]
	}
	line := strings.TrimSpace(rest)

	open := strings.IndexByte(line, '{')
	if open < 0 || len(line)-2 <= open {
		return nil, fmt.Errorf("comment data line has no object")
	}

	var module commentModule
	if err := json.Unmarshal([]byte(line[open:len(line)-2]), &module); err != nil {
		return nil, fmt.Errorf("failed to decode comment data: %w", err)
	}
	return &module, nil
}

// initialCursor reads the paging state embedded in the course page
func initialCursor(raw string) (*boardCursor, error) {
	start := strings.Index(raw, initialPageDataField)
	if start < 0 {
		return nil, nil
	}
	end := strings.IndexByte(raw[start:], '}')
	if end < 0 {
		return nil, fmt.Errorf("unterminated %s", initialPageDataField)
	}

	var wrapper struct {
		InitialPageData boardCursor `json:"InitialPageData"`
	}
	if err := json.Unmarshal([]byte("{"+raw[start:start+end]+"}}"), &wrapper); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", initialPageDataField, err)
	}
	return &wrapper.InitialPageData, nil
}

// oldBulletins reads the list style boards of older course dashboards
func oldBulletins(doc *goquery.Document) []Bulletin {
	var out []Bulletin
	doc.Find("#" + oldBulletinListID + ", #" + bulletinListID).Find("ul.itsl-cb-news-old-bulletin-list").Each(func(_ int, list *goquery.Selection) {
		items := list.Children()
		if items.Length() == 0 || containsAny(items.First().Text(), emptyBoardMarkers) {
			return
		}
		items.Each(func(_ int, li *goquery.Selection) {
			cells := li.Children()
			meta := cells.Eq(3).Children()
			out = append(out, Bulletin{
				Subject: strings.TrimSpace(cells.Eq(0).Text()),
				Body:    outerHTML(cells.Eq(1)),
				Author:  strings.TrimSpace(meta.Eq(0).Text()),
				Posted:  strings.TrimSpace(meta.Eq(1).Text()),
			})
		})
	})
	return out
}

// newsItems reads the bulletins of a project page
func newsItems(doc *goquery.Document) []Bulletin {
	var out []Bulletin
	doc.Find(".newsitem").Each(func(_ int, item *goquery.Selection) {
		cells := item.Children()
		meta := cells.Eq(2).Children().First().Children()
		out = append(out, Bulletin{
			Subject: strings.TrimSpace(cells.Eq(0).Text()),
			Body:    outerHTML(cells.Eq(1)),
			Author:  strings.TrimSpace(meta.Eq(0).Text()),
			Posted:  strings.TrimSpace(meta.Eq(1).Text()),
		})
	})
	return out
}

// bulletinNodes wraps bulletins as leaf nodes numbered from offset+1
func bulletinNodes(bulletins []Bulletin, offset int) ([]models.Node, error) {
	nodes := make([]models.Node, 0, len(bulletins))
	for i, b := range bulletins {
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		n := offset + i + 1
		nodes = append(nodes, models.Node{
			RemoteID:    strconv.Itoa(n),
			Kind:        models.KindBulletin,
			DisplayName: fmt.Sprintf("Bulletin %d", n),
			Inline:      raw,
		})
	}
	return nodes, nil
}

func outerHTML(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	html, err := goquery.OuterHtml(s)
	if err != nil {
		return ""
	}
	return html
}

// rawValue renders a JSON scalar for a query string
func rawValue(v json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(v)), `"`)
}
