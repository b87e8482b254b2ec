package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursedump/pkg/models"
	"coursedump/pkg/paginate"
)

const lightBoard = `<html><body>
<div id="ctl00_ContentPlaceHolder_DashboardLayout_ctl04_ctl03_CT"><div><ul data-bulletin-item-editor-template="tpl">
<li class="itsl-light-bulletins-new-item-listitem">Write a bulletin</li>
<li><div data-bulletin-id="55"></div><span class="itsl-light-bulletins-person-name"> Ann </span>
<div class="h-userinput itsl-light-bulletins-list-item-text" data-text="&lt;p&gt;Exam on &lt;b&gt;Friday&lt;/b&gt;&lt;/p&gt;"></div></li>
<li><div data-bulletin-id="56"></div><span class="itsl-light-bulletins-person-name">Cy</span>
<div class="h-userinput itsl-light-bulletins-list-item-text" data-text="Quiet week"></div></li>
</ul></div></div>
<script>
var board = {"InitialPageData":{"NeedToShowMore":true,"BoundaryLightBulletinId":56,"BoundaryLightBulletinCreatedTicks":637000}};
CCL.CommentModule['CommentModule_LightBulletin_55_CommentModule'] = true;
CCL.CommentModule.init({"DataSource":{"VirtualCount":3,"Items":[{"Id":901,"UserName":"Bo","DateTimeTooltip":"02.09.2020","CommentText":"Thanks"}]},"UserData":{"sourceId":55,"sourceType":"LightBulletin"},"NumberOfPreviouslyReadItemsToDisplay":2,"UsePersonNameFormatLastFirst":false});
</script></body></html>`

const boardBatch = `<li><div data-bulletin-id="50"></div><span class="itsl-light-bulletins-person-name">Dee</span>
<div class="h-userinput itsl-light-bulletins-list-item-text" data-text="Older news"></div></li>
<div data-pagedata='{"NeedToShowMore":false,"BoundaryLightBulletinId":50,"BoundaryLightBulletinCreatedTicks":1}'></div>`

const oldBoard = `<html><body><div id="ctl00_ContentPlaceHolder_DashboardLayout_ctl04_ctl04_CT">
<ul class="itsl-cb-news-old-bulletin-list"><li><h3>Room change</h3><div><p>Now in <i>B2</i></p></div><span></span>
<div><span>Eve</span><span>01.01.2019</span></div></li></ul></div></body></html>`

func newBoardPlatform(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var batches []string
	mux := http.NewServeMux()
	mux.HandleFunc("/Course/course.aspx", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("CourseId") {
		case "101":
			io.WriteString(w, lightBoard)
		case "102":
			io.WriteString(w, oldBoard)
		default:
			io.WriteString(w, `<html><body><div id="ctl00_ContentPlaceHolder_DashboardLayout_ctl04_ctl03_CT"><div>
<ul data-bulletin-item-editor-template="tpl"><li>No bulletins yet</li></ul></div></div></body></html>`)
		}
	})
	mux.HandleFunc("/Bulletins/Page", func(w http.ResponseWriter, r *http.Request) {
		batches = append(batches, r.URL.RawQuery)
		io.WriteString(w, boardBatch)
	})
	return httptest.NewServer(mux), &batches
}

func TestSiteLightBulletinBoard(t *testing.T) {
	srv, batches := newBoardPlatform(t)
	defer srv.Close()

	site := newTestSite(t, srv, nil)
	ctx := context.Background()

	page, err := site.List(ctx, models.Node{RemoteID: "101", Kind: models.KindBulletins, Locator: "/Course/course.aspx?CourseId=101"})
	require.NoError(t, err)
	assert.True(t, page.HasNext())

	nodes, err := paginate.Collect(ctx, page, paginate.Options{})
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, []string{"courseId=101&boundaryLightBulletinId=56&boundaryLightBulletinCreatedTicks=637000"}, *batches)

	for i, n := range nodes {
		assert.Equal(t, models.KindBulletin, n.Kind)
		assert.True(t, n.Local())
		assert.Equal(t, []string{"Bulletin 1", "Bulletin 2", "Bulletin 3"}[i], n.DisplayName)
	}

	first, err := DecodeBulletin(nodes[0].Inline)
	require.NoError(t, err)
	assert.Equal(t, "Ann", first.Author)
	assert.Equal(t, "<p>Exam on <b>Friday</b></p>", first.Body)
	require.Len(t, first.Comments, 1)
	assert.Equal(t, "Bo", first.Comments[0].UserName)
	assert.Equal(t, "Thanks", first.Comments[0].Text)
	assert.Equal(t, "/Services/CommentService.asmx/GetOldComments?sourceId=55&sourceType=LightBulletin&commentId=901&count=3&numberOfPreviouslyReadItemsToDisplay=2&usePersonNameFormatLastFirst=false", first.MoreComments)

	second, err := DecodeBulletin(nodes[1].Inline)
	require.NoError(t, err)
	assert.Empty(t, second.Comments)
	assert.Empty(t, second.MoreComments)

	third, err := DecodeBulletin(nodes[2].Inline)
	require.NoError(t, err)
	assert.Equal(t, "Dee", third.Author)
}

func TestSiteOldBulletinBoard(t *testing.T) {
	srv, _ := newBoardPlatform(t)
	defer srv.Close()

	site := newTestSite(t, srv, nil)
	page, err := site.List(context.Background(), models.Node{RemoteID: "102", Kind: models.KindBulletins, Locator: "/Course/course.aspx?CourseId=102"})
	require.NoError(t, err)
	assert.False(t, page.HasNext())
	require.Len(t, page.Entries(), 1)

	b, err := DecodeBulletin(page.Entries()[0].Inline)
	require.NoError(t, err)
	assert.Equal(t, "Room change", b.Subject)
	assert.Equal(t, "Eve", b.Author)
	assert.Equal(t, "01.01.2019", b.Posted)
	assert.Contains(t, b.Body, "<i>B2</i>")
}

func TestSiteEmptyBulletinBoard(t *testing.T) {
	srv, _ := newBoardPlatform(t)
	defer srv.Close()

	site := newTestSite(t, srv, nil)
	page, err := site.List(context.Background(), models.Node{RemoteID: "103", Kind: models.KindBulletins, Locator: "/Course/course.aspx?CourseId=103"})
	require.NoError(t, err)
	assert.Empty(t, page.Entries())
	assert.False(t, page.HasNext())
}

func TestProjectNewsItems(t *testing.T) {
	doc := mustDoc(t, `<div class="newsitem"><h2>Kickoff</h2><div><p>Meet at noon</p></div>
<div><p><span>Ann</span><span>01.09.2020</span></p></div></div>`)

	items := newsItems(doc)
	require.Len(t, items, 1)
	assert.Equal(t, Bulletin{
		Author:  "Ann",
		Posted:  "01.09.2020",
		Subject: "Kickoff",
		Body:    "<div><p>Meet at noon</p></div>",
	}, items[0])
}

func TestDecodeComments(t *testing.T) {
	comments, err := DecodeComments([]byte(`{"Items":[{"Id":1,"UserName":"Bo","DateTimeTooltip":"today","CommentText":"ok"}]}`))
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "ok", comments[0].Text)

	_, err = DecodeComments([]byte(`[`))
	assert.Error(t, err)
}
