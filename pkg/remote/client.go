package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/text/encoding/charmap"

	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
	"coursedump/pkg/retry"
)

// notAuthorizedMarker appears in the final URL when the platform bounces a
// request to its access denied page
const notAuthorizedMarker = "not_authorized"

// ClientOptions configures a Client
type ClientOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Cookie is sent verbatim as the Cookie header on every request
	Cookie string
	Retry  *retry.Config
	Logger logger.Logger
	// MaxFileSize rejects downloads larger than this many bytes. 0 disables the check.
	MaxFileSize int64
}

// File is a downloaded attachment
type File struct {
	Name    string
	Content []byte
}

// Client talks to the learning platform over HTTP
type Client struct {
	http        *resty.Client
	base        *url.URL
	retry       *retry.Config
	logger      logger.Logger
	maxFileSize int64
}

// NewClient creates a client for the platform at opts.BaseURL
func NewClient(opts ClientOptions) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	retryCfg := opts.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
		retryCfg.Logger = log
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(base.String(), "/")).
		SetCookieJar(jar).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9")
	if opts.UserAgent != "" {
		hc.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Timeout > 0 {
		hc.SetTimeout(opts.Timeout)
	}
	if opts.Cookie != "" {
		hc.SetHeader("Cookie", opts.Cookie)
	}

	return &Client{
		http:        hc,
		base:        base,
		retry:       retryCfg,
		logger:      log,
		maxFileSize: opts.MaxFileSize,
	}, nil
}

// BaseURL returns the platform root
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Resolve turns a locator into an absolute URL. Absolute locators are
// returned unchanged.
func (c *Client) Resolve(locator string) string {
	u, err := url.Parse(locator)
	if err != nil {
		return locator
	}
	if u.IsAbs() {
		return u.String()
	}
	return c.base.ResolveReference(u).String()
}

// Fetch performs a GET and returns the response body
func (c *Client) Fetch(ctx context.Context, locator string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, locator, func(r *resty.Request) *resty.Request { return r })
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// FetchDocument performs a GET and parses the response as HTML
func (c *Client) FetchDocument(ctx context.Context, locator string) (*goquery.Document, error) {
	body, err := c.Fetch(ctx, locator)
	if err != nil {
		return nil, err
	}
	return parseDocument(locator, body)
}

// PostForm submits form as application/x-www-form-urlencoded. A non-empty
// referer is sent along, the platform rejects postbacks without one.
func (c *Client) PostForm(ctx context.Context, locator string, form url.Values, referer string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, locator, func(r *resty.Request) *resty.Request {
		r.SetFormDataFromValues(form)
		if referer != "" {
			r.SetHeader("Referer", c.Resolve(referer))
		}
		return r
	})
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Download fetches an attachment. The file name comes from the
// Content-Disposition header when present, otherwise from the URL path.
// data: URLs are decoded locally without a request.
func (c *Client) Download(ctx context.Context, locator string) (File, error) {
	if i := strings.Index(locator, "data:"); i >= 0 {
		return decodeDataURL(locator[i:])
	}

	resp, err := c.do(ctx, http.MethodGet, locator, func(r *resty.Request) *resty.Request { return r })
	if err != nil {
		return File{}, err
	}

	body := resp.Body()
	if c.maxFileSize > 0 && int64(len(body)) > c.maxFileSize {
		return File{}, errs.Transport("download", locator, resp.StatusCode(),
			fmt.Errorf("file size %d exceeds limit of %d bytes", len(body), c.maxFileSize))
	}

	name := fileNameFromDisposition(resp.Header().Get("Content-Disposition"))
	if name == "" {
		name = fileNameFromURL(c.Resolve(locator))
	}
	return File{Name: name, Content: body}, nil
}

func (c *Client) do(ctx context.Context, method, locator string, build func(*resty.Request) *resty.Request) (*resty.Response, error) {
	target := c.Resolve(locator)
	return retry.DoWithResult(ctx, func(ctx context.Context) (*resty.Response, error) {
		start := time.Now()
		resp, err := build(c.http.R().SetContext(ctx)).Execute(method, target)
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.LogRequest(c.logger, method, target, 0, elapsed)
			return nil, errs.Transport(strings.ToLower(method), target, 0, err)
		}

		status := resp.StatusCode()
		logger.LogRequest(c.logger, method, target, status, elapsed)

		if status >= http.StatusBadRequest {
			return nil, errs.Transport(strings.ToLower(method), target, status,
				fmt.Errorf("unexpected status %s", resp.Status()))
		}
		if resp.RawResponse != nil && resp.RawResponse.Request != nil &&
			strings.Contains(resp.RawResponse.Request.URL.String(), notAuthorizedMarker) {
			return nil, errs.Transport(strings.ToLower(method), target, http.StatusForbidden,
				fmt.Errorf("redirected to access denied page"))
		}
		return resp, nil
	}, c.retry)
}

func parseDocument(locator string, body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Transport("parse", locator, 0, err)
	}
	return doc, nil
}

// fileNameFromDisposition extracts the file name from a Content-Disposition
// header. Names the server sent as raw latin1 bytes are converted to UTF-8.
func fileNameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	name := ""
	if err == nil {
		name = params["filename"]
	} else if i := strings.Index(strings.ToLower(header), "filename="); i >= 0 {
		name = strings.Trim(strings.TrimSpace(strings.SplitN(header[i+len("filename="):], ";", 2)[0]), `"`)
	}
	if name == "" {
		return ""
	}
	if !utf8.ValidString(name) {
		if fixed, err := charmap.ISO8859_1.NewDecoder().String(name); err == nil {
			name = fixed
		}
	}
	return name
}

func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "attachment"
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "attachment"
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return base
}

// decodeDataURL decodes an RFC 2397 data URL into a file named after its
// media type
func decodeDataURL(raw string) (File, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return File{}, errs.Transport("decode", "data:", 0, fmt.Errorf("data URL has no payload"))
	}

	params := strings.Split(meta, ";")
	mediaType := params[0]
	if mediaType == "" {
		mediaType = "text/plain"
	}
	encoded := false
	for _, p := range params[1:] {
		if p == "base64" {
			encoded = true
		}
	}

	var content []byte
	if encoded {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
		if err != nil {
			return File{}, errs.Transport("decode", "data:", 0, fmt.Errorf("invalid base64 payload: %w", err))
		}
		content = decoded
	} else {
		unescaped, err := url.PathUnescape(data)
		if err != nil {
			return File{}, errs.Transport("decode", "data:", 0, err)
		}
		content = []byte(unescaped)
	}

	ext := ""
	if _, sub, found := strings.Cut(mediaType, "/"); found {
		ext = "." + strings.SplitN(sub, "+", 2)[0]
	}
	return File{Name: "embedded" + ext, Content: content}, nil
}
