package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursedump/pkg/config"
	"coursedump/pkg/logger"
	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
)

const invitationTable = `<div class="tablelisting"><table><tr><th>Project</th><th>Accept</th></tr>
<tr><td>Invite</td><td>Yes</td></tr></table></div>`

func catalogRow(id, name string, column int) string {
	cells := ""
	for i := 0; i < 5; i++ {
		if i == column {
			cells += fmt.Sprintf(`<td><a href="/main.aspx?CourseID=%s"><span>%s</span></a></td>`, id, name)
		} else {
			cells += "<td></td>"
		}
	}
	return "<tr>" + cells + "</tr>"
}

func catalogPage(filter, rows, pager string) string {
	return `<html><body><form method="post">
<input type="hidden" name="__EVENTTARGET" value="">
<input type="hidden" name="ctl26$ctl00$ctl25$ctl02" value="` + filter + `">
` + invitationTable + `
<div class="tablelisting"><table><tr><th>a</th><th>b</th><th>c</th><th>d</th><th>e</th></tr>` + rows + `</table></div>
` + pager + `</form></body></html>`
}

const nextPager = `<div class="previous-next"><a title="Next" id="ctl26_ctl00_next"></a></div>`

const folderRoot = `<html><body><table id="ctl00_ContentPlaceHolder_ProcessFolderGrid_T">
<thead><tr><th class="selectcolumn"></th><th>Type</th><th>Title</th></tr></thead>
<tbody>
<tr><td></td><td>icon</td><td><a href="/Folder/processfolder.aspx?FolderElementID=501">Week 1</a></td></tr>
<tr><td></td><td>icon</td><td><a href="/File/fs_folderfile.aspx?FolderFileID=9">Syllabus</a></td></tr>
<tr><td></td><td>icon</td><td><a href="/Survey/view.aspx?SurveyID=3">Feedback</a></td></tr>
</tbody></table></body></html>`

const folderEmpty = `<html><body><table id="ctl00_ContentPlaceHolder_ProcessFolderGrid_T">
<thead><tr><th>Title</th></tr></thead>
<tbody><tr><td class="emptytablecell">This folder is empty</td></tr></tbody></table></body></html>`

type countingLimiter struct{ n int32 }

func (l *countingLimiter) Wait(ctx context.Context) error {
	atomic.AddInt32(&l.n, 1)
	return ctx.Err()
}

func newPlatform(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/Course/AllCourses.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			io.WriteString(w, catalogPage("Active", catalogRow("100", "Active only", 2), ""))
			return
		}
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "All", r.PostForm.Get("ctl26$ctl00$ctl25$ctl02"))
		switch r.PostForm.Get("__EVENTTARGET") {
		case "":
			io.WriteString(w, catalogPage("All", catalogRow("101", "Algebra", 2)+`<tr><td>broken row</td></tr>`, nextPager))
		case "ctl26$ctl00_next":
			io.WriteString(w, catalogPage("All", catalogRow("102", "Biology", 2), ""))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/Project/AllProjects.aspx", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body><form><input type="hidden" name="__EVENTTARGET" value="">
<div class="tablelisting"><table><tr><th>a</th><th>b</th><th>c</th><th>d</th><th>e</th></tr>`+
			catalogRow("7", "Robotics", 1)+`</table></div></form></body></html>`)
	})
	mux.HandleFunc("/ContentArea/ContentArea.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("LocationID") == "404" {
			io.WriteString(w, "<html><body>no folder here</body></html>")
			return
		}
		io.WriteString(w, `<html><body><script>load('/Folder/processfolder.aspx?FolderElementID=500');</script></body></html>`)
	})
	mux.HandleFunc("/Folder/processfolder.aspx", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("FolderElementID") {
		case "500":
			io.WriteString(w, folderRoot)
		case "501":
			io.WriteString(w, folderEmpty)
		default:
			io.WriteString(w, "<html><body>wrong page</body></html>")
		}
	})
	mux.HandleFunc("/restapi/personal/instantmessages/messagethreads/v1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("threadPage") == "0" {
			io.WriteString(w, threadBatch(4))
			return
		}
		io.WriteString(w, `{"EntityArray":[]}`)
	})

	return httptest.NewServer(mux)
}

func newTestSite(t *testing.T, srv *httptest.Server, limiter *countingLimiter) *Site {
	t.Helper()
	opts := SiteOptionsFromConfig(config.DefaultConfig().Remote)
	opts.Logger = logger.NewNopLogger()
	if limiter != nil {
		opts.Limiter = limiter
	}
	return NewSite(newTestClient(t, srv), opts)
}

func TestSiteRootListing(t *testing.T) {
	srv := newPlatform(t)
	defer srv.Close()

	limiter := &countingLimiter{}
	site := newTestSite(t, srv, limiter)
	ctx := context.Background()

	page, err := site.List(ctx, site.Root())
	require.NoError(t, err)

	got, err := paginate.Collect(ctx, page, paginate.Options{})
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, models.KindMessaging, got[0].Kind)
	assert.Equal(t, "Messaging", got[0].DisplayName)

	assert.Equal(t, models.Node{
		RemoteID:    "101",
		Kind:        models.KindCourse,
		DisplayName: "Algebra",
		Locator:     "/ContentArea/ContentArea.aspx?LocationID=101&LocationType=1",
	}, got[1])
	assert.Equal(t, "Biology", got[2].DisplayName)

	assert.Equal(t, models.KindProject, got[3].Kind)
	assert.Equal(t, "Project - Robotics", got[3].DisplayName)
	assert.Equal(t, "/ContentArea/ContentArea.aspx?LocationID=7&LocationType=2", got[3].Locator)

	// one wait before the "All" postback and one per catalog page advance
	assert.Equal(t, int32(2), atomic.LoadInt32(&limiter.n))
}

func TestSiteRootRespectsIncludes(t *testing.T) {
	srv := newPlatform(t)
	defer srv.Close()

	site := newTestSite(t, srv, nil)
	site.opts.IncludeCourses = false
	site.opts.IncludeMessaging = false

	page, err := site.List(context.Background(), site.Root())
	require.NoError(t, err)
	require.Len(t, page.Entries(), 1)
	assert.Equal(t, models.KindProject, page.Entries()[0].Kind)
}

func TestSiteCourseOpensRootFolder(t *testing.T) {
	srv := newPlatform(t)
	defer srv.Close()

	site := newTestSite(t, srv, nil)
	course := models.Node{RemoteID: "101", Kind: models.KindCourse, Locator: "/ContentArea/ContentArea.aspx?LocationID=101&LocationType=1"}

	page, err := site.List(context.Background(), course)
	require.NoError(t, err)
	assert.False(t, page.HasNext())

	entries := page.Entries()
	require.Len(t, entries, 4)

	assert.Equal(t, models.Node{
		RemoteID:    "101",
		Kind:        models.KindBulletins,
		DisplayName: "Bulletins",
		Locator:     "/Course/course.aspx?CourseId=101",
	}, entries[0])
	assert.Equal(t, models.Node{
		RemoteID:    "501",
		Kind:        models.KindFolder,
		DisplayName: "Folder - Week 1",
		Locator:     "/Folder/processfolder.aspx?FolderElementID=501",
	}, entries[1])
	assert.Equal(t, models.KindFile, entries[2].Kind)
	assert.Equal(t, "Syllabus", entries[2].DisplayName)
	assert.Equal(t, "/File/fs_folderfile.aspx?FolderFileID=9", entries[2].Locator)
	assert.Equal(t, models.KindUnknown, entries[3].Kind)
	assert.Equal(t, "/Survey/view.aspx?SurveyID=3", entries[3].Locator)
}

func TestSiteProjectBulletinBoard(t *testing.T) {
	srv := newPlatform(t)
	defer srv.Close()

	site := newTestSite(t, srv, nil)
	project := models.Node{RemoteID: "7", Kind: models.KindProject, Locator: "/ContentArea/ContentArea.aspx?LocationID=7&LocationType=2"}

	page, err := site.List(context.Background(), project)
	require.NoError(t, err)
	require.NotEmpty(t, page.Entries())
	assert.Equal(t, "/Project/project.aspx?ProjectId=7&BulletinBoardAll=True", page.Entries()[0].Locator)

	site.opts.IncludeBulletins = false
	page, err = site.List(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, models.KindFolder, page.Entries()[0].Kind)
}

func TestSiteCourseWithoutFolder(t *testing.T) {
	srv := newPlatform(t)
	defer srv.Close()

	site := newTestSite(t, srv, nil)
	_, err := site.List(context.Background(), models.Node{Kind: models.KindCourse, Locator: "/ContentArea/ContentArea.aspx?LocationID=404&LocationType=1"})
	assert.Error(t, err)
}

func TestSiteEmptyFolder(t *testing.T) {
	srv := newPlatform(t)
	defer srv.Close()

	site := newTestSite(t, srv, nil)
	page, err := site.List(context.Background(), models.Node{Kind: models.KindFolder, Locator: "/Folder/processfolder.aspx?FolderElementID=501"})
	require.NoError(t, err)
	assert.Empty(t, page.Entries())
	assert.False(t, page.HasNext())
}

func TestSiteFolderMissingTable(t *testing.T) {
	srv := newPlatform(t)
	defer srv.Close()

	site := newTestSite(t, srv, nil)
	_, err := site.List(context.Background(), models.Node{Kind: models.KindFolder, Locator: "/Folder/processfolder.aspx?FolderElementID=1"})
	assert.Error(t, err)
}

func TestSiteMessaging(t *testing.T) {
	srv := newPlatform(t)
	defer srv.Close()

	site := newTestSite(t, srv, nil)
	ctx := context.Background()

	root, err := site.List(ctx, site.Root())
	require.NoError(t, err)

	archives, err := site.List(ctx, root.Entries()[0])
	require.NoError(t, err)
	require.Len(t, archives.Entries(), 2)
	assert.Equal(t, models.KindInstantMessages, archives.Entries()[0].Kind)
	assert.Equal(t, "New API", archives.Entries()[0].DisplayName)
	assert.Equal(t, models.KindMessageFolders, archives.Entries()[1].Kind)
	assert.Equal(t, "Old API", archives.Entries()[1].DisplayName)

	page, err := site.List(ctx, archives.Entries()[0])
	require.NoError(t, err)

	threads, err := paginate.Collect(ctx, page, paginate.Options{})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "4", threads[0].RemoteID)
}

func TestSiteRejectsLeafListing(t *testing.T) {
	site := &Site{}
	_, err := site.List(context.Background(), models.Node{Kind: models.KindFile})
	assert.Error(t, err)
}

func TestClassifier(t *testing.T) {
	c := NewClassifier(DefaultRoutes())

	tests := []struct {
		href    string
		kind    models.Kind
		locator string
		name    string
	}{
		{"/essay/read_essay.aspx?EssayID=12", models.KindAssignment, "/essay/read_essay.aspx?EssayID=12", ""},
		{"/Note/View_Note.aspx?NoteID=5&Extra=1", models.KindNote, "/Note/View_Note.aspx?NoteID=5", ""},
		{"/discussion/list_discussions.aspx?DiscussionID=8", models.KindDiscussion, "/discussion/list_discussions.aspx?DiscussionID=8", "Discussion - title"},
		{"/weblink/weblink.aspx?WebLinkID=3", models.KindWeblink, "/weblink/weblink.aspx?WebLinkID=3", ""},
		{"/LearningToolElement/ViewLearningToolElement.aspx?LearningToolElementId=2", models.KindLearningTool, "/LearningToolElement/ViewLearningToolElement.aspx?LearningToolElementId=2", ""},
		{"/test/view_survey_list.aspx?TestID=6", models.KindTest, "/test/view_survey_list.aspx?TestID=6", ""},
		{"/picture/view_picture.aspx?PictureID=4", models.KindPicture, "/picture/view_picture.aspx?PictureID=4&FolderID=-1&ChildID=-1&DashboardHierarchyID=-1&DashboardName=&ReturnUrl=", ""},
		{"/Ntt/EditTool/ViewTest.aspx?TestID=11", models.KindOnlineTest, "/Ntt/EditTool/ViewTest.aspx?TestID=11", ""},
		{"/CustomActivity/View.aspx?ActivityId=1", models.KindCustomActivity, "/CustomActivity/View.aspx?ActivityId=1", ""},
		{"/Other/page.aspx", models.KindUnknown, "/Other/page.aspx", ""},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			n := c.Classify(tt.href, "title")
			assert.Equal(t, tt.kind, n.Kind)
			assert.Equal(t, tt.locator, n.Locator)
			name := tt.name
			if name == "" {
				name = "title"
			}
			assert.Equal(t, name, n.DisplayName)
		})
	}
}
