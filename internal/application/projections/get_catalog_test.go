package projections

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	domainCourse "academy/internal/domain/course"
	domainDrip "academy/internal/domain/drip"
)

// TestQueryGetCatalog_ListedOnlyAndPromo tests catalog filtering and promo prices.
func TestQueryGetCatalog_ListedOnlyAndPromo(t *testing.T) {
	m := dripFixture()
	m.courses = append(m.courses,
		domainCourse.Course{ID: "draft", Name: "Draft", Status: domainCourse.StatusDraft, CourseType: domainCourse.TypeStandard},
		domainCourse.Course{ID: "gone", Name: "Gone", IsPublished: true, Status: domainCourse.StatusSelling, DeletedAt: testNow},
		domainCourse.Course{ID: "promo", Name: "Promo", IsPublished: true, Status: domainCourse.StatusPreorder,
			Price: 900, OriginalPrice: 1500, PromoEndsAt: testNow.Add(time.Hour)},
		domainCourse.Course{ID: "expired", Name: "Expired", IsPublished: true, Status: domainCourse.StatusSelling,
			Price: 900, OriginalPrice: 1500, PromoEndsAt: testNow.Add(-time.Hour)},
	)

	got, err := QueryGetCatalog(context.Background(), testNow, GetCatalogDeps{CourseStore: m})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := map[string]CatalogCourse{}
	for _, c := range got {
		ids[c.ID] = c
	}
	if len(got) != 3 || ids["draft"].ID != "" || ids["gone"].ID != "" {
		t.Errorf("expected drip, promo and expired only, got %v", got)
	}
	if ids["promo"].DisplayOriginalPrice != 1500 || ids["expired"].DisplayOriginalPrice != 0 {
		t.Errorf("unexpected promo prices %+v %+v", ids["promo"], ids["expired"])
	}
}

// TestQueryGetCourseDetail tests the outline and the viewer's state.
func TestQueryGetCourseDetail(t *testing.T) {
	m := dripFixture()
	m.subs = []domainDrip.Subscription{{UserID: "u", CourseID: "drip", Status: domainDrip.StatusActive}}
	deps := GetCourseDetailDeps{CourseStore: m, LessonStore: m, PurchaseStore: m, SubscriptionStore: m}

	res, err := QueryGetCourseDetail(context.Background(), GetCourseDetailQuery{CourseID: "drip", UserID: "u", Now: testNow}, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LessonCount != 3 || len(res.Chapters) != 1 || len(res.StandaloneLessons) != 1 || res.SubscriptionStatus != domainDrip.StatusActive || res.Owned {
		t.Errorf("unexpected detail %+v", res)
	}

	m.courses[0].IsPublished = false
	if _, err := QueryGetCourseDetail(context.Background(), GetCourseDetailQuery{CourseID: "drip", Now: testNow}, deps); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected unlisted course hidden, got %v", err)
	}
	if _, err := QueryGetCourseDetail(context.Background(), GetCourseDetailQuery{CourseID: "drip", Preview: true, Now: testNow}, deps); err != nil {
		t.Errorf("expected staff preview, got %v", err)
	}
}
