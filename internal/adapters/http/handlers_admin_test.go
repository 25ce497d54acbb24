package web

import (
	"errors"
	"net/http"
	"testing"
	"time"

	accountStore "academy/internal/adapters/storage/account"
	"academy/internal/application/projections"
	"academy/internal/domain/account"
	courseDomain "academy/internal/domain/course"
	"academy/internal/domain/drip"
	"academy/internal/domain/outbox"
)

// TestAdmin_RoleGates tests who reaches the back office.
func TestAdmin_RoleGates(t *testing.T) {
	e := newTestEnv(t)
	member, _ := e.memberLogin("m@example.com")
	editor := e.staffLogin("ed@example.com", account.RoleEditor)
	admin := e.admin()

	tests := []struct {
		name   string
		path   string
		cookie *http.Cookie
		want   int
	}{
		{"guest courses", "/admin/courses", nil, http.StatusUnauthorized},
		{"member courses", "/admin/courses", member, http.StatusForbidden},
		{"editor courses", "/admin/courses", editor, http.StatusOK},
		{"editor members", "/admin/members", editor, http.StatusOK},
		{"editor dashboard", "/admin/dashboard", editor, http.StatusOK},
		{"member dashboard", "/admin/dashboard", member, http.StatusForbidden},
		{"editor outbox", "/admin/outbox", editor, http.StatusForbidden},
		{"editor jobs", "/admin/jobs", editor, http.StatusForbidden},
		{"admin outbox", "/admin/outbox", admin, http.StatusOK},
		{"admin jobs", "/admin/jobs", admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cookies []*http.Cookie
			if tt.cookie != nil {
				cookies = append(cookies, tt.cookie)
			}
			expect(t, e.do("GET", tt.path, nil, cookies...), tt.want)
		})
	}
}

// TestAdminCourses_Lifecycle tests editing, reordering and deleting a course.
// POST: delete hides the course but keeps it listable with ?deleted=1
func TestAdminCourses_Lifecycle(t *testing.T) {
	e := newTestEnv(t)
	staff := e.staffLogin("ed@example.com", account.RoleEditor)
	id := e.publishedCourse(staff, map[string]any{"Name": "Go", "Price": 900}, 3)

	rec := e.do("PUT", "/admin/courses/"+id, map[string]any{"Name": "Go, Revised", "Price": 1500, "OriginalPrice": 2000}, staff)
	expect(t, rec, http.StatusOK)
	if c := decodeBody[courseDomain.Course](t, rec); c.Name != "Go, Revised" || c.Price != 1500 {
		t.Errorf("updated course = %+v", c)
	}

	rec = e.do("POST", "/admin/courses/"+id+"/lessons", map[string]any{
		"Title": "Intro video", "VideoURL": "https://youtu.be/dQw4w9WgXcQ",
	}, staff)
	expect(t, rec, http.StatusCreated)
	if l := decodeBody[courseDomain.Lesson](t, rec); l.VideoPlatform != "youtube" || l.VideoID != "dQw4w9WgXcQ" {
		t.Errorf("lesson video = %s/%s", l.VideoPlatform, l.VideoID)
	}

	rec = e.do("POST", "/admin/courses/"+id+"/lessons", map[string]any{"Title": "Bad", "VideoURL": "https://example.com/v"}, staff)
	expect(t, rec, http.StatusBadRequest)
	fields := decodeBody[struct {
		Fields map[string]string `json:"fields"`
	}](t, rec).Fields
	if fields["VideoURL"] == "" {
		t.Errorf("expected a VideoURL field error, got %v", fields)
	}

	view := decodeBody[adminCourseView](t, e.do("GET", "/admin/courses/"+id, nil, staff))
	if len(view.Lessons) != 4 {
		t.Fatalf("lessons = %d, want 4", len(view.Lessons))
	}
	var ids []string
	for i := len(view.Lessons) - 1; i >= 0; i-- {
		ids = append(ids, view.Lessons[i].ID)
	}
	expect(t, e.do("POST", "/admin/courses/"+id+"/lessons/reorder", map[string]any{"LessonIDs": ids[:2]}, staff), http.StatusUnprocessableEntity)
	expect(t, e.do("POST", "/admin/courses/"+id+"/lessons/reorder", map[string]any{"LessonIDs": ids}, staff), http.StatusNoContent)
	view = decodeBody[adminCourseView](t, e.do("GET", "/admin/courses/"+id, nil, staff))
	if view.Lessons[0].ID != ids[0] {
		t.Errorf("first lesson = %s, want %s", view.Lessons[0].ID, ids[0])
	}

	expect(t, e.do("DELETE", "/admin/courses/"+id, nil, staff), http.StatusNoContent)
	expect(t, e.do("GET", "/courses/"+id, nil), http.StatusNotFound)
	listed := decodeBody[[]courseDomain.Course](t, e.do("GET", "/admin/courses", nil, staff))
	if len(listed) != 0 {
		t.Errorf("deleted course still listed: %+v", listed)
	}
	listed = decodeBody[[]courseDomain.Course](t, e.do("GET", "/admin/courses?deleted=1", nil, staff))
	if len(listed) != 1 || !listed[0].IsDeleted() {
		t.Errorf("deleted listing = %+v", listed)
	}
	expect(t, e.do("POST", "/admin/courses/"+id+"/publish", nil, staff), http.StatusConflict)
}

func TestAdminCourses_Validation(t *testing.T) {
	e := newTestEnv(t)
	staff := e.admin()

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing name", map[string]any{"Price": 100}, http.StatusBadRequest},
		{"negative price", map[string]any{"Name": "X", "Price": -1}, http.StatusBadRequest},
		{"unknown type", map[string]any{"Name": "X", "CourseType": "weekly"}, http.StatusBadRequest},
		{"drip without interval", map[string]any{"Name": "X", "CourseType": "drip"}, http.StatusUnprocessableEntity},
		{"interval on standard", map[string]any{"Name": "X", "DripIntervalDays": 3}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect(t, e.do("POST", "/admin/courses", tt.body, staff), tt.want)
		})
	}
}

// TestAdminChapters tests grouping lessons under a chapter.
func TestAdminChapters(t *testing.T) {
	e := newTestEnv(t)
	staff := e.admin()
	id := e.publishedCourse(staff, map[string]any{"Name": "Go"}, 0)

	rec := e.do("POST", "/admin/courses/"+id+"/chapters", map[string]string{"Title": "Basics"}, staff)
	expect(t, rec, http.StatusCreated)
	chapter := decodeBody[courseDomain.Chapter](t, rec)

	expect(t, e.do("PUT", "/admin/courses/"+id+"/chapters/"+chapter.ID, map[string]string{"Title": "Fundamentals"}, staff), http.StatusOK)
	expect(t, e.do("POST", "/admin/courses/"+id+"/lessons", map[string]any{"Title": "Types", "ChapterID": chapter.ID}, staff), http.StatusCreated)

	other := e.publishedCourse(staff, map[string]any{"Name": "Other"}, 0)
	expect(t, e.do("PUT", "/admin/courses/"+other+"/chapters/"+chapter.ID, map[string]string{"Title": "Stolen"}, staff), http.StatusNotFound)

	rec = e.do("GET", "/courses/"+id, nil)
	detail := decodeBody[projections.GetCourseDetailResult](t, rec)
	if len(detail.Chapters) != 1 || detail.Chapters[0].Title != "Fundamentals" || len(detail.Chapters[0].Lessons) != 1 {
		t.Errorf("outline = %+v", detail.Chapters)
	}

	rec = e.do("POST", "/admin/courses/"+id+"/chapters", map[string]string{"Title": "Advanced"}, staff)
	expect(t, rec, http.StatusCreated)
	second := decodeBody[courseDomain.Chapter](t, rec)
	order := []string{second.ID, chapter.ID}
	expect(t, e.do("POST", "/admin/courses/"+id+"/chapters/reorder", map[string]any{"ChapterIDs": order[:1]}, staff), http.StatusUnprocessableEntity)
	expect(t, e.do("POST", "/admin/courses/"+id+"/chapters/reorder", map[string]any{"ChapterIDs": order}, staff), http.StatusNoContent)
	view := decodeBody[adminCourseView](t, e.do("GET", "/admin/courses/"+id, nil, staff))
	if len(view.Chapters) != 2 || view.Chapters[0].ID != second.ID || view.Chapters[1].SortOrder != 1 {
		t.Errorf("chapters after reorder = %+v", view.Chapters)
	}

	expect(t, e.do("DELETE", "/admin/courses/"+id+"/chapters/"+chapter.ID, nil, staff), http.StatusNoContent)
}

// TestAdminMembers_DetailAndEdit tests the member detail view, its edit form and
// the owner count used before a broadcast.
func TestAdminMembers_DetailAndEdit(t *testing.T) {
	e := newTestEnv(t)
	staff := e.admin()
	courseID := e.publishedCourse(staff, map[string]any{"Name": "Go", "Price": 900}, 2)
	_, ann := e.memberLogin("ann@example.com")
	e.memberLogin("bob@example.com")

	expect(t, e.do("POST", "/admin/courses/"+courseID+"/gift", map[string]any{"MemberIDs": []string{ann}}, staff), http.StatusAccepted)
	e.drain()

	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"?course_id=" + courseID, 1},
		{"?course_id=" + courseID + "&q=bob", 0},
		{"?q=BOB", 1},
	}
	for _, tt := range tests {
		rec := e.do("GET", "/admin/members/count"+tt.query, nil, staff)
		expect(t, rec, http.StatusOK)
		if got := decodeBody[map[string]int](t, rec)["Count"]; got != tt.want {
			t.Errorf("count%s = %d, want %d", tt.query, got, tt.want)
		}
	}
	owners := decodeBody[memberListResponse](t, e.do("GET", "/admin/members?course_id="+courseID, nil, staff))
	if len(owners.Members) != 1 || owners.Members[0].ID != ann {
		t.Errorf("owners = %+v", owners.Members)
	}

	rec := e.do("GET", "/admin/members/"+ann, nil, staff)
	expect(t, rec, http.StatusOK)
	detail := decodeBody[projections.MemberDetail](t, rec)
	if detail.Email != "ann@example.com" || len(detail.Courses) != 1 || detail.Courses[0].TotalLessons != 2 {
		t.Errorf("detail = %+v", detail)
	}

	rec = e.do("PUT", "/admin/members/"+ann, map[string]string{"Email": "ann.lee@example.com", "RealName": "Ann Lee", "Phone": "0912"}, staff)
	expect(t, rec, http.StatusOK)
	if d := decodeBody[projections.MemberDetail](t, rec); d.Email != "ann.lee@example.com" || d.RealName != "Ann Lee" {
		t.Errorf("updated detail = %+v", d)
	}
	expect(t, e.do("PUT", "/admin/members/"+ann, map[string]string{"Email": "bob@example.com"}, staff), http.StatusConflict)
	expect(t, e.do("PUT", "/admin/members/"+ann, map[string]string{"Email": "not-an-email"}, staff), http.StatusBadRequest)
	expect(t, e.do("GET", "/admin/members/missing", nil, staff), http.StatusNotFound)

	boss, err := e.accounts.List(t.Context(), accountStore.ListFilter{Role: account.RoleAdmin})
	if err != nil || len(boss) != 1 {
		t.Fatalf("admins = %+v, %v", boss, err)
	}
	expect(t, e.do("GET", "/admin/members/"+boss[0].ID, nil, staff), http.StatusNotFound)
	expect(t, e.do("PUT", "/admin/members/"+boss[0].ID, map[string]string{"Nickname": "Boss"}, staff), http.StatusForbidden)
}

// TestAdminDashboard tests the headline counts.
func TestAdminDashboard(t *testing.T) {
	e := newTestEnv(t)
	staff := e.admin()
	sold := e.publishedCourse(staff, map[string]any{"Name": "Sold"}, 1)
	expect(t, e.do("POST", "/admin/courses", map[string]any{"Name": "Draft"}, staff), http.StatusCreated)
	_, ann := e.memberLogin("ann@example.com")
	expect(t, e.do("POST", "/admin/courses/"+sold+"/gift", map[string]any{"MemberIDs": []string{ann}}, staff), http.StatusAccepted)
	e.drain()

	rec := e.do("GET", "/admin/dashboard", nil, staff)
	expect(t, rec, http.StatusOK)
	d := decodeBody[projections.Dashboard](t, rec)
	want := projections.DashboardStats{TotalCourses: 2, PublishedCourses: 1, DraftCourses: 1, Members: 1, Sales: 1}
	if d.Stats != want {
		t.Errorf("stats = %+v, want %+v", d.Stats, want)
	}
	if len(d.RecentCourses) != 2 {
		t.Errorf("recent courses = %+v", d.RecentCourses)
	}
}

// TestAdminSubscribers tests the drip subscriber list.
func TestAdminSubscribers(t *testing.T) {
	e := newTestEnv(t)
	staff := e.admin()
	id := e.publishedCourse(staff, map[string]any{"Name": "Drip", "CourseType": "drip", "DripIntervalDays": 1}, 3)
	for _, email := range []string{"a@example.com", "b@example.com"} {
		cookie, _ := e.memberLogin(email)
		expect(t, e.do("POST", "/drip/subscribe", map[string]string{"CourseID": id}, cookie), http.StatusCreated)
	}

	rec := e.do("GET", "/admin/courses/"+id+"/subscribers", nil, staff)
	expect(t, rec, http.StatusOK)
	res := decodeBody[projections.GetSubscribersResult](t, rec)
	if res.Total != 2 || res.StatusCounts[drip.StatusActive] != 2 {
		t.Errorf("subscribers = %+v", res)
	}

	rec = e.do("GET", "/admin/courses/"+id+"/subscribers?status=unsubscribed", nil, staff)
	if res := decodeBody[projections.GetSubscribersResult](t, rec); len(res.Subscribers) != 0 {
		t.Errorf("filtered subscribers = %+v", res.Subscribers)
	}
}

// TestAdminBatchEmail_OutboxRetry tests a queued broadcast through failure and retry.
// POST: a failed job surfaces in the outbox list and a retry delivers it
func TestAdminBatchEmail_OutboxRetry(t *testing.T) {
	e := newTestEnv(t)
	admin := e.admin()
	_, a := e.memberLogin("a@example.com")
	_, b := e.memberLogin("b@example.com")

	members := decodeBody[memberListResponse](t, e.do("GET", "/admin/members", nil, admin))
	if len(members.Members) != 2 || members.Page.Total != 2 {
		t.Fatalf("members = %+v", members)
	}
	found := decodeBody[memberListResponse](t, e.do("GET", "/admin/members?q=B%40EXAMPLE", nil, admin))
	if len(found.Members) != 1 || found.Members[0].ID != b {
		t.Errorf("search = %+v", found.Members)
	}

	e.sender.FailWith(errors.New("provider down"))
	rec := e.do("POST", "/admin/emails", map[string]any{"Subject": "News", "Body": "Hello **all**", "MemberIDs": []string{a, b}}, admin)
	expect(t, rec, http.StatusAccepted)

	for range outbox.DefaultPolicy.MaxAttempts {
		e.drain()
		e.advance(2 * time.Minute)
	}

	rec = e.do("GET", "/admin/outbox", nil, admin)
	expect(t, rec, http.StatusOK)
	list := decodeBody[outboxListResponse](t, rec)
	if len(list.Entries) != 1 || list.Counts[outbox.StatusFailed] != 1 {
		t.Fatalf("outbox = %+v", list)
	}
	entryID := list.Entries[0].ID

	e.sender.FailWith(nil)
	before := len(e.sender.Sent())
	expect(t, e.do("POST", "/admin/outbox/"+entryID+"/retry", nil, admin), http.StatusOK)
	e.drain()
	if got := len(e.sender.Sent()) - before; got != 2 {
		t.Errorf("retry sent %d mails, want 2", got)
	}
	expect(t, e.do("POST", "/admin/outbox/"+entryID+"/retry", nil, admin), http.StatusConflict)
	expect(t, e.do("POST", "/admin/outbox/missing/abandon", nil, admin), http.StatusNotFound)
}

// TestAdminJobs_RunNow tests the manual trigger of a scheduled job.
func TestAdminJobs_RunNow(t *testing.T) {
	e := newTestEnv(t)
	admin := e.admin()
	id := e.publishedCourse(admin, map[string]any{"Name": "Soon", "SaleAt": e.clock().Add(time.Hour)}, 1)
	if c, _ := e.courses.GetByID(t.Context(), id); c.Status != courseDomain.StatusPreorder {
		t.Fatalf("status = %s, want preorder", c.Status)
	}

	jobs := decodeBody[map[string]time.Time](t, e.do("GET", "/admin/jobs", nil, admin))
	if _, ok := jobs["course_status"]; !ok {
		t.Errorf("jobs = %v", jobs)
	}

	e.advance(2 * time.Hour)
	rec := e.do("POST", "/admin/jobs/course_status/run", nil, admin)
	expect(t, rec, http.StatusOK)
	if res := decodeBody[jobRunResponse](t, rec); res.Affected != 1 {
		t.Errorf("affected = %d, want 1", res.Affected)
	}
	if c, _ := e.courses.GetByID(t.Context(), id); c.Status != courseDomain.StatusSelling {
		t.Errorf("status = %s, want selling", c.Status)
	}

	expect(t, e.do("POST", "/admin/jobs/nope/run", nil, admin), http.StatusNotFound)
}
