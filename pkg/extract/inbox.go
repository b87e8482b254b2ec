package extract

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	xhtml "golang.org/x/net/html"

	"coursedump/internal/downloader"
	"coursedump/pkg/crawl"
	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/ratelimit"
)

const draftBodyID = "_inputForm_MessageText_MessageTextEditorCKEditor_ctl00"

var (
	blindCopyLabels  = []string{"Blind", "Blindkopi"}
	attachmentLabels = []string{"Attachments", "Vedlegg"}
)

// InboxMessage renders one message of the old inbox. Unsent drafts open in
// the editor and are read from its form.
type InboxMessage struct {
	fetcher   Fetcher
	converter *md.Converter
	limiter   ratelimit.Limiter
	logger    logger.Logger
}

// NewInboxMessage creates an inbox message extractor
func NewInboxMessage(fetcher Fetcher, domain string, limiter ratelimit.Limiter, log logger.Logger) *InboxMessage {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &InboxMessage{
		fetcher:   fetcher,
		converter: md.NewConverter(domain, true, nil),
		limiter:   limiter,
		logger:    log,
	}
}

type parsedMessage struct {
	from, to, subject, sent string
	blindCopy              string
	body                   string
	attachment             *downloader.Job
}

func (m *InboxMessage) Extract(ctx context.Context, node models.Node, destDir string) (*crawl.Payload, error) {
	body, err := m.fetcher.Fetch(ctx, node.Locator)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Extraction("parse message", node.RemoteID, node.Locator, err)
	}

	var msg *parsedMessage
	if form := doc.Find("#_inputForm").First(); form.Length() > 0 {
		msg, err = m.draft(form)
	} else {
		msg, err = m.read(doc)
	}
	if err != nil {
		return nil, errs.Extraction("parse message", node.RemoteID, node.Locator, err)
	}

	payload := &crawl.Payload{Text: []byte(msg.render())}
	if msg.attachment == nil {
		return payload, nil
	}

	results, err := downloader.DownloadAll(ctx, m.fetcher, m.limiter, 1, []downloader.Job{*msg.attachment}, m.logger)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err != nil {
			return nil, errs.Extraction("download attachment", node.RemoteID, r.Job.URL, r.Err)
		}
		payload.Attachments = append(payload.Attachments, attachmentTarget(r.File))
	}
	return payload, nil
}

// draft reads a message that was never sent. Attachments of drafts are not
// reachable from the editor.
func (m *InboxMessage) draft(form *goquery.Selection) (*parsedMessage, error) {
	fields := form.Children().First().Children().First().Children()
	value := func(i int) *goquery.Selection {
		return fields.Eq(i).Children().First().Children().Eq(1)
	}

	subject, err := m.markdown(value(2))
	if err != nil {
		return nil, err
	}
	body, err := m.markdown(form.Find("#" + draftBodyID).First())
	if err != nil {
		return nil, err
	}
	return &parsedMessage{
		from:    "[you]",
		to:      strings.TrimSpace(value(0).Text() + " " + value(1).Text()),
		subject: subject,
		sent:    "N/A",
		body:    body,
	}, nil
}

// read parses a received or sent message. The header table lists sender
// and recipient first; blind copies and attachments are found by label.
func (m *InboxMessage) read(doc *goquery.Document) (*parsedMessage, error) {
	header := doc.Find(".readMessageHeader").First().Children().Eq(1)
	rows := header.Children()
	if tbody := header.ChildrenFiltered("tbody"); tbody.Length() > 0 {
		rows = tbody.Children()
	}
	if rows.Length() < 2 {
		return nil, fmt.Errorf("message header not found")
	}

	senderCell := rows.Eq(0).Children().Eq(1)
	msg := &parsedMessage{
		subject: strings.TrimSpace(doc.Find("#ctl05_TT").First().Text()),
		from:    sender(senderCell),
		to:      strings.TrimSpace(rows.Eq(1).Children().Eq(1).Text()),
		sent:    sentDate(senderCell),
	}

	rows.Each(func(_ int, row *goquery.Selection) {
		label := row.Children().First().Text()
		value := row.Children().Eq(1)
		switch {
		case msg.blindCopy == "" && containsAnyOf(label, blindCopyLabels):
			msg.blindCopy = strings.TrimSpace(value.Text())
		case msg.attachment == nil && containsAnyOf(label, attachmentLabels):
			link := value.Children().First()
			if href := link.AttrOr("href", ""); href != "" {
				msg.attachment = &downloader.Job{URL: href, Name: strings.TrimSpace(link.Text())}
			}
		}
	})

	content := doc.Find(".readMessageBody").First().Children().Eq(1)
	for i := 0; i < 3 && content.Children().Length() > 0; i++ {
		content = content.Children().First()
	}
	body, err := m.markdown(content)
	if err != nil {
		return nil, err
	}
	msg.body = body
	return msg, nil
}

// sentDate returns the text following the sender link. System messages have
// no link and hold only the date.
func sentDate(cell *goquery.Selection) string {
	if cell.Children().Length() == 0 {
		return strings.TrimSpace(cell.Text())
	}
	next := cell.Children().Get(0).NextSibling
	if next == nil || next.Type != xhtml.TextNode {
		return ""
	}
	return strings.TrimSpace(next.Data)
}

// sender is the linked name, or the whole cell for system messages
func sender(cell *goquery.Selection) string {
	if link := cell.Children().First(); link.Length() > 0 {
		return strings.TrimSpace(link.Text())
	}
	return strings.TrimSpace(cell.Text())
}

func (m *InboxMessage) markdown(s *goquery.Selection) (string, error) {
	if s.Length() == 0 {
		return "", nil
	}
	raw, err := goquery.OuterHtml(s)
	if err != nil {
		return "", err
	}
	text, err := m.converter.ConvertString(raw)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (msg *parsedMessage) render() string {
	var b strings.Builder
	b.WriteString("From: " + msg.from + "\n")
	b.WriteString("To: " + msg.to + "\n")
	b.WriteString("Subject: " + msg.subject + "\n")
	b.WriteString("Sent on: " + msg.sent + "\n")
	if msg.blindCopy != "" {
		b.WriteString("Blind copy: " + msg.blindCopy + "\n")
	}
	if msg.attachment != nil {
		b.WriteString("Attachment: " + msg.attachment.Name + "\n")
	}
	b.WriteString("Message contents: \n\n" + html.UnescapeString(msg.body) + "\n")
	return b.String()
}

func containsAnyOf(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
