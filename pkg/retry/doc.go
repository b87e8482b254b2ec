// Package retry provides exponential backoff and retry logic for transient
// transport failures.
//
// Only the HTTP transport retries. The crawl engine never retries on its own:
// once the transport gives up, the failure goes to the failure policy.
//
// Basic usage:
//
//	cfg := retry.FromSettings(appConfig.Retry, log)
//	body, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]byte, error) {
//		return fetch(ctx, url)
//	}, cfg)
//
// DefaultRetryIf retries transport errors that carry a network failure, a
// 408/429 status or a 5xx status. Everything else is returned immediately.
package retry
