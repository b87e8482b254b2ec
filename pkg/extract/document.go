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
	"coursedump/pkg/remote"
	"coursedump/pkg/storage"
)

// Fetcher is the part of the transport the extractors need
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
	Download(ctx context.Context, locator string) (remote.File, error)
}

// DocumentOptions configures a Document extractor
type DocumentOptions struct {
	// Domain resolves relative links in the converted text
	Domain string
	// Selectors pick the content element; the first selector that matches wins
	Selectors []string
	// AttachmentPatterns are substrings marking a link as a downloadable file
	AttachmentPatterns []string
	// Images downloads every image inside the content element
	Images bool
	// AttachmentsOnly drops the page text and keeps only the downloads
	AttachmentsOnly bool
	// Subdir stores attachments in a directory named after the entry
	Subdir bool

	Workers int
	Limiter ratelimit.Limiter
	Logger  logger.Logger
}

// Document turns an HTML page into markdown text plus its attachments
type Document struct {
	fetcher   Fetcher
	opts      DocumentOptions
	converter *md.Converter
	logger    logger.Logger
}

// NewDocument creates a document extractor
func NewDocument(fetcher Fetcher, opts DocumentOptions) *Document {
	if len(opts.Selectors) == 0 {
		opts.Selectors = []string{"body"}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	return &Document{
		fetcher:   fetcher,
		opts:      opts,
		converter: md.NewConverter(opts.Domain, true, nil),
		logger:    log,
	}
}

// Extract fetches the page behind node.Locator
func (d *Document) Extract(ctx context.Context, node models.Node, destDir string) (*crawl.Payload, error) {
	body, err := d.fetcher.Fetch(ctx, node.Locator)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Extraction("parse page", node.RemoteID, node.Locator, err)
	}
	content := d.content(doc)

	payload := &crawl.Payload{}
	if !d.opts.AttachmentsOnly {
		text, err := d.text(node, content)
		if err != nil {
			return nil, errs.Extraction("convert page", node.RemoteID, node.Locator, err)
		}
		payload.Text = text
	}

	jobs, links := d.jobs(doc, content)
	if len(jobs) == 0 {
		return payload, nil
	}

	results, err := downloader.DownloadAll(ctx, d.fetcher, d.opts.Limiter, d.opts.Workers, jobs, d.logger)
	if err != nil {
		return nil, err
	}

	dir := ""
	if d.opts.Subdir {
		dir = storage.Sanitize(node.Label())
	}
	versioned := links > 1
	for _, r := range results {
		if r.Err != nil {
			return nil, errs.Extraction("download attachment", node.RemoteID, r.Job.URL, r.Err)
		}
		name := r.File.Name
		if versioned && r.Job.Index < links {
			name = fmt.Sprintf("%d_%s", r.Job.Index, name)
		}
		payload.Attachments = append(payload.Attachments, storage.Target{
			Dir:     dir,
			Name:    name,
			Content: r.File.Content,
		})
	}

	d.logger.DebugWithFields("Extracted document", map[string]interface{}{
		"name":        node.Label(),
		"attachments": len(payload.Attachments),
	})
	return payload, nil
}

func (d *Document) content(doc *goquery.Document) *goquery.Selection {
	for _, sel := range d.opts.Selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return doc.Selection
}

func (d *Document) text(node models.Node, content *goquery.Selection) ([]byte, error) {
	html, err := goquery.OuterHtml(content)
	if err != nil {
		return nil, err
	}
	markdown, err := d.converter.ConvertString(html)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if node.DisplayName != "" {
		fmt.Fprintf(&buf, "# %s\n\n", node.DisplayName)
	}
	buf.WriteString(strings.TrimSpace(markdown))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// jobs collects attachment links from the whole page followed by the images
// of the content element. links is the number of link jobs. Duplicate URLs
// are fetched once.
func (d *Document) jobs(doc *goquery.Document, content *goquery.Selection) (jobs []downloader.Job, links int) {
	seen := map[string]bool{}

	if len(d.opts.AttachmentPatterns) > 0 {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href := strings.TrimSpace(s.AttrOr("href", ""))
			if href == "" || seen[href] || !matchesAny(href, d.opts.AttachmentPatterns) {
				return
			}
			seen[href] = true
			jobs = append(jobs, downloader.Job{Index: len(jobs), URL: href})
		})
	}
	links = len(jobs)

	if d.opts.Images {
		content.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
			src := strings.TrimSpace(s.AttrOr("src", ""))
			if src == "" || seen[src] {
				return
			}
			seen[src] = true
			jobs = append(jobs, downloader.Job{Index: len(jobs), URL: src})
		})
	}
	return jobs, links
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
