// Package remote is the reference adapter for the learning platform.
//
// Client wraps resty with the session cookie, transport retries and request
// logging. Site implements the crawl Lister on top of it:
//
//   - the root lists the messaging inbox followed by every course and project
//     from the catalog pages;
//   - a course or project opens the root folder linked from its page;
//   - a folder lists its table rows, classified by link prefix;
//   - messaging pages through the instant message API.
//
// Catalog pages advance through ASP.NET postbacks (FormPage), the message
// API through a page number (IndexedPage).
package remote
