package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
)

// emptyInboxMarkers are shown in place of the first message of an empty folder
var emptyInboxMarkers = []string{"No messages", "Ingen meldinger"}

// ThreadBatch is one page of the instant message API
type ThreadBatch struct {
	EntityArray []json.RawMessage `json:"EntityArray"`
}

// MessageThread is a conversation as returned by the instant message API
type MessageThread struct {
	ID       int64  `json:"InstantMessageThreadId"`
	Created  string `json:"Created"`
	Messages struct {
		EntityArray []Message `json:"EntityArray"`
	} `json:"Messages"`
}

// Message is a single message inside a thread
type Message struct {
	CreatedByName    string  `json:"CreatedByName"`
	CreatedFormatted string  `json:"CreatedFormatted"`
	Text             string  `json:"Text"`
	AttachmentName   *string `json:"AttachmentName"`
	AttachmentURL    string  `json:"AttachmentUrl"`
}

// HasAttachment reports whether the message carries a file
func (m Message) HasAttachment() bool {
	return m.AttachmentName != nil
}

// DecodeThread parses the inline payload of a message thread node
func DecodeThread(raw []byte) (*MessageThread, error) {
	var t MessageThread
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to decode message thread: %w", err)
	}
	return &t, nil
}

// decodeThreadBatch turns one API page into message thread nodes. Threads
// are numbered across pages starting at offset.
func decodeThreadBatch(body []byte, offset int) ([]models.Node, error) {
	var batch ThreadBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode message batch: %w", err)
	}

	nodes := make([]models.Node, 0, len(batch.EntityArray))
	for i, raw := range batch.EntityArray {
		t, err := DecodeThread(raw)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, models.Node{
			RemoteID:    strconv.FormatInt(t.ID, 10),
			Kind:        models.KindMessageThread,
			DisplayName: fmt.Sprintf("Message thread %d - %s", offset+i, t.Created),
			Inline:      raw,
		})
	}
	return nodes, nil
}

// listMessaging returns the two message archives: threads of the instant
// message API and the folders of the old inbox
func (s *Site) listMessaging(_ context.Context, _ models.Node) (paginate.Page, error) {
	nodes := []models.Node{{
		RemoteID:    "instant",
		Kind:        models.KindInstantMessages,
		DisplayName: "New API",
		Locator:     s.opts.MessagingPath,
	}}
	if s.opts.IncludeMessageFolders && s.opts.MessageFolderPath != "" {
		nodes = append(nodes, models.Node{
			RemoteID:    "folders",
			Kind:        models.KindMessageFolders,
			DisplayName: "Old API",
			Locator:     s.opts.MessageFolderPath,
		})
	}
	return paginate.NewStatic(nodes), nil
}

func (s *Site) listInstantMessages(ctx context.Context, node models.Node) (paginate.Page, error) {
	pattern := node.Locator
	if pattern == "" {
		pattern = s.opts.MessagingPath
	}
	return LoadIndexedPage(ctx, s.client, pattern, 0, 0, decodeThreadBatch)
}

// listMessageFolders tries folder ids from 1 upwards. Each id is one indexed
// page holding that folder; the first id without a folder ends the listing.
func (s *Site) listMessageFolders(ctx context.Context, node models.Node) (paginate.Page, error) {
	pattern := node.Locator
	if pattern == "" {
		pattern = s.opts.MessageFolderPath
	}
	return LoadIndexedPage(ctx, s.client, pattern, 1, 0, messageFolderDecoder(pattern))
}

// messageFolderDecoder turns a folder page into a folder node. The
// page itself travels inline so listing the folder needs no second request.
func messageFolderDecoder(pattern string) DecodeFunc {
	return func(body []byte, offset int) ([]models.Node, error) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		title := doc.Find("#ctl05_TT").First()
		if title.Length() == 0 {
			return nil, nil
		}

		// every page yields one folder, so offset+1 is the requested id
		id := offset + 1
		return []models.Node{{
			RemoteID:    strconv.Itoa(id),
			Kind:        models.KindMessageFolder,
			DisplayName: strings.TrimSpace(title.Text()),
			Locator:     fmt.Sprintf(pattern, id),
			Inline:      body,
		}}, nil
	}
}

// listMessageFolder pages through the messages of one inbox folder
func (s *Site) listMessageFolder(ctx context.Context, node models.Node) (paginate.Page, error) {
	var doc *goquery.Document
	var err error
	if node.Local() {
		doc, err = parseDocument(node.Locator, node.Inline)
	} else {
		doc, err = s.client.FetchDocument(ctx, node.Locator)
	}
	if err != nil {
		return nil, err
	}
	return NewFormPage(s.client, node.Locator, doc, s.parseMessages, DefaultBackpatchIndex)
}

// parseMessages reads the _table_N rows of an inbox page. Messages are
// numbered from 1 across the pages of the folder.
func (s *Site) parseMessages(doc *goquery.Document, offset int) ([]models.Node, error) {
	var nodes []models.Node
	for n := 1; ; n++ {
		row := doc.Find(fmt.Sprintf("#_table_%d", n)).First()
		if row.Length() == 0 {
			break
		}
		if n == 1 && containsAny(row.Text(), emptyInboxMarkers) {
			return nil, nil
		}

		cells := row.Children()
		link := cells.Eq(3).Children().First()
		if link.AttrOr("href", "") == "" {
			// a '<' in the recipient name shifts the title link into the sender cell
			link = cells.Eq(2).Children().First().Children().First().Children().First()
		}
		href := link.AttrOr("href", "")
		if href == "" {
			s.logger.WarnWithFields("Message row has no link", map[string]interface{}{
				"row": n,
			})
			continue
		}

		nodes = append(nodes, models.Node{
			RemoteID:    linkID(href),
			Kind:        models.KindMessage,
			DisplayName: fmt.Sprintf("Message %d", offset+len(nodes)+1),
			Locator:     href,
		})
	}
	return nodes, nil
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
