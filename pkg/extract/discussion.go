package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"coursedump/internal/downloader"
	"coursedump/pkg/crawl"
	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/ratelimit"
)

// DiscussionThread renders the posts of one forum thread
type DiscussionThread struct {
	fetcher   Fetcher
	converter *md.Converter
	workers   int
	limiter   ratelimit.Limiter
	logger    logger.Logger
}

// NewDiscussionThread creates a discussion thread extractor
func NewDiscussionThread(fetcher Fetcher, domain string, workers int, limiter ratelimit.Limiter, log logger.Logger) *DiscussionThread {
	if workers < 1 {
		workers = 1
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &DiscussionThread{
		fetcher:   fetcher,
		converter: md.NewConverter(domain, true, nil),
		workers:   workers,
		limiter:   limiter,
		logger:    log,
	}
}

type post struct {
	author    string
	timestamp string
	content   *goquery.Selection
}

func (d *DiscussionThread) Extract(ctx context.Context, node models.Node, destDir string) (*crawl.Payload, error) {
	body, err := d.fetcher.Fetch(ctx, node.Locator)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Extraction("parse thread", node.RemoteID, node.Locator, err)
	}

	table := doc.Find(".threadViewTable").First()
	if table.Length() == 0 {
		return nil, errs.Extraction("parse thread", node.RemoteID, node.Locator, fmt.Errorf("thread table not found"))
	}
	posts := threadPosts(table)

	var b strings.Builder
	var jobs []downloader.Job
	for _, p := range posts {
		html, err := goquery.OuterHtml(p.content)
		if err != nil {
			return nil, errs.Extraction("convert post", node.RemoteID, node.Locator, err)
		}
		text, err := d.converter.ConvertString(html)
		if err != nil {
			return nil, errs.Extraction("convert post", node.RemoteID, node.Locator, err)
		}
		b.WriteString(messageSeparator + "\n")
		b.WriteString("Author: " + p.author + "\n")
		b.WriteString(p.timestamp + "\n\n")
		b.WriteString(strings.TrimSpace(text) + "\n\n")

		p.content.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
			if src := strings.TrimSpace(img.AttrOr("src", "")); src != "" {
				jobs = append(jobs, downloader.Job{Index: len(jobs), URL: src})
			}
		})
	}

	payload := &crawl.Payload{Text: []byte(b.String())}
	if len(jobs) == 0 {
		return payload, nil
	}

	results, err := downloader.DownloadAll(ctx, d.fetcher, d.limiter, d.workers, jobs, d.logger)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err != nil {
			return nil, errs.Extraction("download image", node.RemoteID, r.Job.URL, r.Err)
		}
		payload.Attachments = append(payload.Attachments, attachmentTarget(r.File))
	}

	d.logger.DebugWithFields("Extracted discussion thread", map[string]interface{}{
		"name":  node.Label(),
		"posts": len(posts),
	})
	return payload, nil
}

// threadPosts walks the rows of a thread table. A post is a header row, a
// content row and a footer row holding the timestamp. Deleted posts have no
// footer.
func threadPosts(table *goquery.Selection) []post {
	root := table
	if tbody := table.ChildrenFiltered("tbody").First(); tbody.Length() > 0 {
		root = tbody
	}
	rows := root.ChildrenFiltered("tr")

	var posts []post
	for i := 0; i+1 < rows.Length(); {
		header := rows.Eq(i)
		content := rows.Eq(i + 1).Children().First().Children().First()
		deleted := content.HasClass("deleted")

		p := post{content: content}
		headCell := header.Children().First()
		if author := headCell.Children().Eq(2).Children().First(); author.Length() > 0 {
			p.author = author.Text()
		} else {
			// anonymous posts only carry the avatar
			p.author = headCell.Children().First().AttrOr("alt", "")
		}

		if deleted {
			i += 2
		} else {
			footer := rows.Eq(i + 2)
			p.timestamp = strings.TrimSpace(footer.Children().First().Children().First().Children().First().Text())
			i += 3
		}
		posts = append(posts, p)
	}
	return posts
}
