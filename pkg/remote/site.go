package remote

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"coursedump/pkg/config"
	errs "coursedump/pkg/errors"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
	"coursedump/pkg/ratelimit"
)

// Location types understood by the course page
const (
	locationCourse  = 1
	locationProject = 2
)

// Column of the catalog tables that links to the entry
const (
	courseURLColumn  = 2
	projectURLColumn = 1
)

// Route maps a folder entry link to a node kind. Target is a format string
// receiving the entry id; an empty Target keeps the link as the locator.
type Route struct {
	Prefix string
	Kind   models.Kind
	Target string
}

// DefaultRoutes lists every folder entry type the platform renders
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/Folder", Kind: models.KindFolder, Target: "/Folder/processfolder.aspx?FolderElementID=%s"},
		{Prefix: "/File", Kind: models.KindFile, Target: "/File/fs_folderfile.aspx?FolderFileID=%s"},
		{Prefix: "/essay", Kind: models.KindAssignment, Target: "/essay/read_essay.aspx?EssayID=%s"},
		{Prefix: "/Note", Kind: models.KindNote, Target: "/Note/View_Note.aspx?NoteID=%s"},
		{Prefix: "/discussion", Kind: models.KindDiscussion, Target: "/discussion/list_discussions.aspx?DiscussionID=%s"},
		{Prefix: "/weblink", Kind: models.KindWeblink, Target: "/weblink/weblink.aspx?WebLinkID=%s"},
		{Prefix: "/LearningToolElement", Kind: models.KindLearningTool, Target: "/LearningToolElement/ViewLearningToolElement.aspx?LearningToolElementId=%s"},
		{Prefix: "/test", Kind: models.KindTest, Target: "/test/view_survey_list.aspx?TestID=%s"},
		{Prefix: "/picture", Kind: models.KindPicture, Target: "/picture/view_picture.aspx?PictureID=%s&FolderID=-1&ChildID=-1&DashboardHierarchyID=-1&DashboardName=&ReturnUrl="},
		{Prefix: "/Ntt", Kind: models.KindOnlineTest, Target: "/Ntt/EditTool/ViewTest.aspx?TestID=%s"},
		{Prefix: "/CustomActivity", Kind: models.KindCustomActivity},
	}
}

// Classifier resolves folder entry links to nodes
type Classifier struct {
	routes []Route
}

// NewClassifier creates a classifier. Routes are tried in order.
func NewClassifier(routes []Route) *Classifier {
	return &Classifier{routes: routes}
}

// Classify builds the node for a folder entry. Links matching no route
// produce a KindUnknown node carrying the raw link.
func (c *Classifier) Classify(href, name string) models.Node {
	for _, r := range c.routes {
		if !strings.HasPrefix(href, r.Prefix) {
			continue
		}
		id := linkID(href)
		node := models.Node{RemoteID: id, Kind: r.Kind, DisplayName: name, Locator: href}
		if r.Target != "" && id != "" {
			node.Locator = fmt.Sprintf(r.Target, id)
		}
		switch r.Kind {
		case models.KindFolder:
			node.DisplayName = "Folder - " + name
		case models.KindDiscussion:
			node.DisplayName = "Discussion - " + name
		}
		return node
	}
	return models.Node{Kind: models.KindUnknown, DisplayName: name, Locator: href}
}

// linkID returns the value of the first query parameter of a link
func linkID(href string) string {
	_, rest, ok := strings.Cut(href, "=")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "&#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// SiteOptions describes the page layout of the platform
type SiteOptions struct {
	CourseListPath    string
	ProjectListPath   string
	CourseListFilter  string
	ProjectListFilter string
	CoursePath        string
	FolderPath        string
	FolderTableID     string
	MessagingPath     string

	MessageFolderPath   string
	CourseBulletinPath  string
	ProjectBulletinPath string
	BulletinPagePath    string
	CommentServicePath  string

	IncludeCourses        bool
	IncludeProjects       bool
	IncludeMessaging      bool
	IncludeMessageFolders bool
	IncludeBulletins      bool

	Routes []Route
	// Limiter is waited on between catalog pages, which the root listing
	// collects eagerly. It should be the limiter the engine waits on.
	Limiter ratelimit.Limiter
	Logger  logger.Logger
}

// SiteOptionsFromConfig maps the remote configuration section onto SiteOptions
func SiteOptionsFromConfig(cfg config.RemoteConfig) SiteOptions {
	return SiteOptions{
		CourseListPath:    cfg.CourseListPath,
		ProjectListPath:   cfg.ProjectListPath,
		CourseListFilter:  cfg.CourseListFilter,
		ProjectListFilter: cfg.ProjectListFilter,
		CoursePath:        cfg.CoursePath,
		FolderPath:        cfg.FolderPath,
		FolderTableID:     cfg.FolderTableID,
		MessagingPath:     cfg.MessagingPath,

		MessageFolderPath:   cfg.MessageFolderPath,
		CourseBulletinPath:  cfg.CourseBulletinPath,
		ProjectBulletinPath: cfg.ProjectBulletinPath,
		BulletinPagePath:    cfg.BulletinPagePath,
		CommentServicePath:  cfg.CommentServicePath,

		IncludeCourses:        cfg.IncludeCourses,
		IncludeProjects:       cfg.IncludeProjects,
		IncludeMessaging:      cfg.IncludeMessaging,
		IncludeMessageFolders: cfg.IncludeMessageFolders,
		IncludeBulletins:      cfg.IncludeBulletins,
		Routes:                DefaultRoutes(),
	}
}

// Site lists the content tree of the platform
type Site struct {
	client     *Client
	opts       SiteOptions
	classifier *Classifier
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// NewSite creates a lister backed by client
func NewSite(client *Client, opts SiteOptions) *Site {
	if opts.Routes == nil {
		opts.Routes = DefaultRoutes()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	return &Site{
		client:     client,
		opts:       opts,
		classifier: NewClassifier(opts.Routes),
		limiter:    limiter,
		logger:     log,
	}
}

// Root returns the node the traversal starts from
func (s *Site) Root() models.Node {
	return models.Node{RemoteID: "root", Kind: models.KindRoot, DisplayName: "root", Locator: s.client.BaseURL()}
}

// List opens the child listing of a container node
func (s *Site) List(ctx context.Context, node models.Node) (paginate.Page, error) {
	switch node.Kind {
	case models.KindRoot:
		return s.listRoot(ctx)
	case models.KindCourse, models.KindProject:
		return s.listCourse(ctx, node)
	case models.KindFolder:
		return s.listFolder(ctx, node)
	case models.KindDiscussion:
		return s.listDiscussion(ctx, node)
	case models.KindBulletins:
		return s.listBulletins(ctx, node)
	case models.KindMessaging:
		return s.listMessaging(ctx, node)
	case models.KindInstantMessages:
		return s.listInstantMessages(ctx, node)
	case models.KindMessageFolders:
		return s.listMessageFolders(ctx, node)
	case models.KindMessageFolder:
		return s.listMessageFolder(ctx, node)
	default:
		return nil, fmt.Errorf("kind %q has no listing", node.Kind)
	}
}

// listRoot returns messaging followed by every course and project. The
// catalogs are collected up front so top-level indices do not depend on how
// the catalog pages are split.
func (s *Site) listRoot(ctx context.Context) (paginate.Page, error) {
	var nodes []models.Node
	if s.opts.IncludeMessaging {
		nodes = append(nodes, models.Node{
			RemoteID:    "messaging",
			Kind:        models.KindMessaging,
			DisplayName: "Messaging",
			Locator:     s.opts.MessagingPath,
		})
	}
	if s.opts.IncludeCourses {
		courses, err := s.listCatalog(ctx, s.opts.CourseListPath, s.opts.CourseListFilter, courseURLColumn, models.KindCourse)
		if err != nil {
			return nil, fmt.Errorf("failed to list courses: %w", err)
		}
		nodes = append(nodes, courses...)
	}
	if s.opts.IncludeProjects {
		projects, err := s.listCatalog(ctx, s.opts.ProjectListPath, s.opts.ProjectListFilter, projectURLColumn, models.KindProject)
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}
		nodes = append(nodes, projects...)
	}

	s.logger.InfoWithFields("Listed top-level entries", map[string]interface{}{
		"entries": len(nodes),
	})
	return paginate.NewStatic(nodes), nil
}

func (s *Site) listCatalog(ctx context.Context, listPath, filter string, column int, kind models.Kind) ([]models.Node, error) {
	doc, err := s.client.FetchDocument(ctx, listPath)
	if err != nil {
		return nil, err
	}

	values := formValues(doc.Find("form").First())
	found := false
	for name := range values {
		if filter != "" && strings.HasPrefix(name, filter) {
			values.Set(name, "All")
			found = true
		}
	}

	if found {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := s.client.PostForm(ctx, listPath, values, listPath)
		if err != nil {
			return nil, err
		}
		if doc, err = parseDocument(listPath, body); err != nil {
			return nil, err
		}
	} else {
		s.logger.WarnWithFields("Could not select all entries, listing only active ones", map[string]interface{}{
			"kind": string(kind),
			"page": listPath,
		})
	}

	first, err := NewFormPage(s.client, listPath, doc, s.catalogParser(column, kind), ListBackpatchIndex)
	if err != nil {
		return nil, err
	}
	return paginate.Collect(ctx, first, paginate.Options{OnAdvance: s.limiter.Wait})
}

func (s *Site) catalogParser(column int, kind models.Kind) ParseFunc {
	locationType := locationCourse
	prefix := ""
	if kind == models.KindProject {
		locationType = locationProject
		prefix = "Project - "
	}

	return func(doc *goquery.Document, _ int) ([]models.Node, error) {
		table := catalogTable(doc)
		if table == nil {
			return nil, fmt.Errorf("failed to locate the %s list", kind)
		}

		rows := tableRows(table)
		if rows.Length() == 2 && rows.Eq(1).Children().Length() == 1 {
			return nil, nil
		}

		var nodes []models.Node
		rows.Each(func(i int, row *goquery.Selection) {
			if i == 0 {
				return
			}
			link := row.Children().Eq(column).Find("a").First()
			id := linkID(link.AttrOr("href", ""))
			if id == "" {
				return
			}
			name := strings.TrimSpace(link.Children().First().Text())
			if name == "" {
				name = strings.TrimSpace(link.Text())
			}
			nodes = append(nodes, models.Node{
				RemoteID:    id,
				Kind:        kind,
				DisplayName: prefix + name,
				Locator:     fmt.Sprintf(s.opts.CoursePath, id, locationType),
			})
		})
		return nodes, nil
	}
}

// catalogTable finds the listing table. Other .tablelisting blocks on the
// page, such as pending invitations, have fewer columns.
func catalogTable(doc *goquery.Document) *goquery.Selection {
	var table *goquery.Selection
	doc.Find(".tablelisting").EachWithBreak(func(_ int, div *goquery.Selection) bool {
		t := div.ChildrenFiltered("table").First()
		if t.Length() == 0 {
			return true
		}
		if tableRows(t).First().Children().Length() > 4 {
			table = t
			return false
		}
		return true
	})
	return table
}

// tableRows returns the rows owned by table, leaving out nested tables
func tableRows(table *goquery.Selection) *goquery.Selection {
	return table.Find("tr").FilterFunction(func(_ int, row *goquery.Selection) bool {
		return row.Closest("table").IsSelection(table)
	})
}

// listCourse lists the bulletin board followed by the entries of the root
// folder linked from the course page
func (s *Site) listCourse(ctx context.Context, node models.Node) (paginate.Page, error) {
	body, err := s.client.Fetch(ctx, node.Locator)
	if err != nil {
		return nil, err
	}

	start := bytes.Index(body, []byte(s.opts.FolderPath))
	if start < 0 {
		return nil, errs.Extraction("find root folder", node.RemoteID, node.Locator,
			fmt.Errorf("course page does not link a folder"))
	}
	end := bytes.IndexAny(body[start:], `'"`)
	if end < 0 {
		end = len(body) - start
	}
	folder := models.Node{
		RemoteID: linkID(string(body[start : start+end])),
		Kind:     models.KindFolder,
		Locator:  string(body[start : start+end]),
	}
	entries, err := s.folderEntries(ctx, folder)
	if err != nil {
		return nil, err
	}

	if board, ok := s.bulletinBoard(node); ok {
		entries = append([]models.Node{board}, entries...)
	}
	return paginate.NewStatic(entries), nil
}

// bulletinBoard returns the bulletin container of a course or project
func (s *Site) bulletinBoard(node models.Node) (models.Node, bool) {
	pattern := s.opts.CourseBulletinPath
	if node.Kind == models.KindProject {
		pattern = s.opts.ProjectBulletinPath
	}
	if !s.opts.IncludeBulletins || pattern == "" || node.RemoteID == "" {
		return models.Node{}, false
	}
	return models.Node{
		RemoteID:    node.RemoteID,
		Kind:        models.KindBulletins,
		DisplayName: "Bulletins",
		Locator:     fmt.Sprintf(pattern, node.RemoteID),
	}, true
}

func (s *Site) listFolder(ctx context.Context, node models.Node) (paginate.Page, error) {
	entries, err := s.folderEntries(ctx, node)
	if err != nil {
		return nil, err
	}
	return paginate.NewStatic(entries), nil
}

func (s *Site) folderEntries(ctx context.Context, node models.Node) ([]models.Node, error) {
	doc, err := s.client.FetchDocument(ctx, node.Locator)
	if err != nil {
		return nil, err
	}

	table := doc.Find("#" + s.opts.FolderTableID).First()
	if table.Length() == 0 {
		return nil, errs.Extraction("list folder", node.RemoteID, node.Locator,
			fmt.Errorf("folder table %q not found", s.opts.FolderTableID))
	}

	rows := table.ChildrenFiltered("tbody").First().ChildrenFiltered("tr")
	if rows.Length() == 0 || rows.First().Children().First().HasClass("emptytablecell") {
		return nil, nil
	}

	titleColumn := 1
	if table.ChildrenFiltered("thead").Find("tr").First().Children().First().HasClass("selectcolumn") {
		titleColumn = 2
	}

	nodes := make([]models.Node, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		link := row.Children().Eq(titleColumn).Children().First()
		nodes = append(nodes, s.classifier.Classify(link.AttrOr("href", ""), strings.TrimSpace(link.Text())))
	})
	return nodes, nil
}
