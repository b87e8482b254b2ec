package extract

import (
	"context"
	"html"
	"strings"

	"coursedump/internal/downloader"
	"coursedump/pkg/crawl"
	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/ratelimit"
	"coursedump/pkg/remote"
)

// AttachmentsDir holds the files sent in message threads
const AttachmentsDir = "Attachments"

const messageSeparator = "-------------------------------------------------------------------------"

// MessageThread renders a thread that arrived inline with the message listing
type MessageThread struct {
	fetcher Fetcher
	workers int
	limiter ratelimit.Limiter
	logger  logger.Logger
}

// NewMessageThread creates a message thread extractor
func NewMessageThread(fetcher Fetcher, workers int, limiter ratelimit.Limiter, log logger.Logger) *MessageThread {
	if workers < 1 {
		workers = 1
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &MessageThread{fetcher: fetcher, workers: workers, limiter: limiter, logger: log}
}

func (m *MessageThread) Extract(ctx context.Context, node models.Node, destDir string) (*crawl.Payload, error) {
	if len(node.Inline) == 0 {
		return nil, errs.Extraction("render thread", node.RemoteID, node.Locator, errNoInline)
	}
	thread, err := remote.DecodeThread(node.Inline)
	if err != nil {
		return nil, errs.Extraction("render thread", node.RemoteID, node.Locator, err)
	}

	payload := &crawl.Payload{Text: []byte(RenderThread(thread))}

	var jobs []downloader.Job
	for _, msg := range thread.Messages.EntityArray {
		if msg.HasAttachment() && msg.AttachmentURL != "" {
			jobs = append(jobs, downloader.Job{Index: len(jobs), URL: msg.AttachmentURL})
		}
	}
	if len(jobs) == 0 {
		return payload, nil
	}

	results, err := downloader.DownloadAll(ctx, m.fetcher, m.limiter, m.workers, jobs, m.logger)
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

// RenderThread formats every message of a thread as a plain text block
func RenderThread(t *remote.MessageThread) string {
	var b strings.Builder
	for _, msg := range t.Messages.EntityArray {
		b.WriteString("From: " + html.UnescapeString(msg.CreatedByName) + "\n")
		b.WriteString("Sent on: " + html.UnescapeString(msg.CreatedFormatted) + "\n")
		if msg.HasAttachment() {
			b.WriteString("Attachment: " + html.UnescapeString(*msg.AttachmentName) + "\n")
		}
		b.WriteString("\n")
		b.WriteString(html.UnescapeString(msg.Text) + "\n")
		b.WriteString("\n")
		b.WriteString(messageSeparator + "\n")
	}
	return b.String()
}
