// Package ratelimit provides the pause that keeps a crawl polite.
//
// The platform being archived is never told how fast it may be called, so the
// crawl uses a fixed, operator-configured delay rather than an adaptive
// algorithm. A single Delay is shared by the traversal and by every attachment
// download worker; its mutex serializes callers so the budget holds in
// aggregate no matter how many goroutines wait on it.
//
// Usage:
//
//	limiter := ratelimit.NewDelay(cfg.Crawl.RateLimitDelay)
//
//	body, err := client.Get(ctx, url)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // cancelled
//	}
package ratelimit
