package extract

import (
	"context"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"coursedump/pkg/crawl"
	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/ratelimit"
	"coursedump/pkg/remote"
)

const commentsHeader = " ---------- Comments ----------"

// Bulletin renders a bulletin that arrived inline with its board. Comments
// the board left out are fetched from the comment service.
type Bulletin struct {
	fetcher   Fetcher
	converter *md.Converter
	limiter   ratelimit.Limiter
	logger    logger.Logger
}

// NewBulletin creates a bulletin extractor
func NewBulletin(fetcher Fetcher, domain string, limiter ratelimit.Limiter, log logger.Logger) *Bulletin {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Bulletin{
		fetcher:   fetcher,
		converter: md.NewConverter(domain, true, nil),
		limiter:   limiter,
		logger:    log,
	}
}

func (b *Bulletin) Extract(ctx context.Context, node models.Node, destDir string) (*crawl.Payload, error) {
	if len(node.Inline) == 0 {
		return nil, errs.Extraction("render bulletin", node.RemoteID, node.Locator, errNoInline)
	}
	bulletin, err := remote.DecodeBulletin(node.Inline)
	if err != nil {
		return nil, errs.Extraction("render bulletin", node.RemoteID, node.Locator, err)
	}

	comments := bulletin.Comments
	if bulletin.MoreComments != "" {
		// the node came with its listing, so this is the only request
		body, err := b.fetcher.Fetch(ctx, bulletin.MoreComments)
		if err != nil {
			return nil, err
		}
		more, err := remote.DecodeComments(body)
		if err != nil {
			return nil, errs.Extraction("load comments", node.RemoteID, bulletin.MoreComments, err)
		}
		comments = append(comments, more...)
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := b.converter.ConvertString(bulletin.Body)
	if err != nil {
		return nil, errs.Extraction("convert bulletin", node.RemoteID, node.Locator, err)
	}
	return &crawl.Payload{Text: []byte(RenderBulletin(bulletin, strings.TrimSpace(body), comments))}, nil
}

// RenderBulletin formats a bulletin with its converted body and comments
func RenderBulletin(bulletin *remote.Bulletin, body string, comments []remote.Comment) string {
	var s strings.Builder
	s.WriteString("Author: " + bulletin.Author + "\n")
	if bulletin.Posted != "" {
		s.WriteString("Posted on: " + bulletin.Posted + "\n")
	}
	if bulletin.Subject != "" {
		s.WriteString("Subject: " + bulletin.Subject + "\n")
	}
	s.WriteString("\n" + body + "\n")

	if len(comments) == 0 {
		return s.String()
	}
	s.WriteString("\n\n" + commentsHeader + "\n\n")
	for _, c := range comments {
		s.WriteString("Comment by: " + c.UserName + "\n")
		s.WriteString("Posted: " + c.Posted + "\n\n")
		s.WriteString(c.Text + "\n\n")
		s.WriteString(" -----\n\n")
	}
	return s.String()
}
