package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
)

// emptyForumMarkers replace the first thread row of a forum without threads
var emptyForumMarkers = []string{"No threads", "Inga trådar"}

// listDiscussion pages through the threads of a discussion forum
func (s *Site) listDiscussion(ctx context.Context, node models.Node) (paginate.Page, error) {
	doc, err := s.client.FetchDocument(ctx, node.Locator)
	if err != nil {
		return nil, err
	}
	return NewFormPage(s.client, node.Locator, doc, parseThreads, DiscussionBackpatchIndex)
}

// parseThreads reads the Threads_N rows of a forum page. Numbering restarts
// at 1 on every page.
func parseThreads(doc *goquery.Document, _ int) ([]models.Node, error) {
	var nodes []models.Node
	for n := 1; ; n++ {
		row := doc.Find(fmt.Sprintf("#Threads_%d", n)).First()
		if row.Length() == 0 {
			break
		}
		if n == 1 && startsWithAny(strings.TrimSpace(row.Children().First().Text()), emptyForumMarkers) {
			return nil, nil
		}

		link := row.Children().Eq(1).Children().First()
		href := link.AttrOr("href", "")
		if href == "" {
			continue
		}
		nodes = append(nodes, models.Node{
			RemoteID:    linkID(href),
			Kind:        models.KindDiscussionThread,
			DisplayName: "Thread - " + strings.TrimSpace(link.Text()),
			Locator:     href,
		})
	}
	return nodes, nil
}

func startsWithAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
