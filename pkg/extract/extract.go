package extract

import (
	"errors"

	"coursedump/pkg/config"
	"coursedump/pkg/crawl"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/ratelimit"
	"coursedump/pkg/remote"
	"coursedump/pkg/storage"
)

var errNoInline = errors.New("payload missing from listing")

// pageKinds are rendered as a text page with their images and attachments
var pageKinds = []models.Kind{
	models.KindAssignment,
	models.KindNote,
	models.KindWeblink,
	models.KindLearningTool,
	models.KindTest,
	models.KindPicture,
	models.KindOnlineTest,
	models.KindCustomActivity,
}

// Options configures the reference extractors
type Options struct {
	Domain             string
	Selectors          []string
	AttachmentPatterns []string
	Workers            int
	Limiter            ratelimit.Limiter
	Logger             logger.Logger
}

// OptionsFromConfig builds Options from the run configuration
func OptionsFromConfig(cfg *config.Config, limiter ratelimit.Limiter, log logger.Logger) Options {
	return Options{
		Domain:             cfg.Remote.BaseURL,
		Selectors:          cfg.Remote.ContentSelectors,
		AttachmentPatterns: cfg.Remote.AttachmentPatterns,
		Workers:            cfg.Download.ConcurrentDownloads,
		Limiter:            limiter,
		Logger:             log,
	}
}

// Register installs an extractor for every leaf kind the site lists
func Register(reg *crawl.Registry, fetcher Fetcher, opts Options) {
	file := NewDocument(fetcher, DocumentOptions{
		Domain:             opts.Domain,
		Selectors:          opts.Selectors,
		AttachmentPatterns: opts.AttachmentPatterns,
		AttachmentsOnly:    true,
		Workers:            opts.Workers,
		Limiter:            opts.Limiter,
		Logger:             opts.Logger,
	})
	reg.Register(models.KindFile, file)

	page := NewDocument(fetcher, DocumentOptions{
		Domain:             opts.Domain,
		Selectors:          opts.Selectors,
		AttachmentPatterns: opts.AttachmentPatterns,
		Images:             true,
		Subdir:             true,
		Workers:            opts.Workers,
		Limiter:            opts.Limiter,
		Logger:             opts.Logger,
	})
	for _, k := range pageKinds {
		reg.Register(k, page)
	}

	reg.Register(models.KindMessageThread, NewMessageThread(fetcher, opts.Workers, opts.Limiter, opts.Logger))
	reg.Register(models.KindMessage, NewInboxMessage(fetcher, opts.Domain, opts.Limiter, opts.Logger))
	reg.Register(models.KindDiscussionThread, NewDiscussionThread(fetcher, opts.Domain, opts.Workers, opts.Limiter, opts.Logger))
	reg.Register(models.KindBulletin, NewBulletin(fetcher, opts.Domain, opts.Limiter, opts.Logger))
}

func attachmentTarget(f remote.File) storage.Target {
	return storage.Target{Dir: AttachmentsDir, Name: f.Name, Content: f.Content}
}
