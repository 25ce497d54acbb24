package web

import (
	"cmp"
	"net/http"
	"time"

	accountStore "academy/internal/adapters/storage/account"
	"academy/internal/application/listutil"
	"academy/internal/application/orchestrators"
	"academy/internal/application/projections"
	"academy/internal/domain/account"
)

type memberRow struct {
	ID          string
	Email       string
	Nickname    string
	RealName    string
	Phone       string
	Role        string
	CreatedAt   time.Time
	LastLoginAt time.Time
}

type memberListResponse struct {
	Members []memberRow
	Page    listutil.PageInfo
}

// memberFilter maps ?q= and ?course_id= onto an account filter for role.
func memberFilter(params listutil.Params, role string) accountStore.ListFilter {
	return accountStore.ListFilter{
		Role:     role,
		Search:   params.Search,
		CourseID: params.Filters["course_id"],
	}
}

// handleAdminListMembers pages through accounts. ?q= searches email and names;
// ?course_id= keeps owners of a course; ?role= defaults to member.
func handleAdminListMembers(w http.ResponseWriter, r *http.Request) {
	params := listutil.Parse(r.URL.Query(), "role", "course_id")
	filter := memberFilter(params, cmp.Or(params.Filters["role"], account.RoleMember))
	filter.Limit, filter.Offset = params.PerPage, params.Offset()
	accts, err := app.Accounts.List(r.Context(), filter)
	if err != nil {
		internalError(w, err)
		return
	}
	total, err := app.Accounts.CountMatching(r.Context(), filter)
	if err != nil {
		internalError(w, err)
		return
	}
	rows := make([]memberRow, 0, len(accts))
	for _, a := range accts {
		rows = append(rows, memberRow{
			ID:          a.ID,
			Email:       a.Email,
			Nickname:    a.Nickname,
			RealName:    a.RealName,
			Phone:       a.Phone,
			Role:        a.Role,
			CreatedAt:   a.CreatedAt,
			LastLoginAt: a.LastLoginAt,
		})
	}
	writeJSON(w, http.StatusOK, memberListResponse{Members: rows, Page: params.Info(total)})
}

// handleAdminCountMembers counts members matching ?q= and ?course_id=, for
// confirming the reach of a broadcast before sending it.
func handleAdminCountMembers(w http.ResponseWriter, r *http.Request) {
	params := listutil.Parse(r.URL.Query(), "course_id")
	n, err := app.Accounts.CountMatching(r.Context(), memberFilter(params, account.RoleMember))
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"Count": n})
}

func handleAdminGetMember(w http.ResponseWriter, r *http.Request) {
	detail, err := projections.QueryGetMemberDetail(r.Context(), r.PathValue("id"), projections.GetMemberDetailDeps{
		AccountStore:  app.Accounts,
		CourseStore:   app.Courses,
		LessonStore:   app.Lessons,
		PurchaseStore: app.Purchases,
		ProgressStore: app.Progress,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type memberUpdateRequest struct {
	Email    string `json:"Email" validate:"omitempty,email,max=254"`
	Nickname string `json:"Nickname" validate:"max=100"`
	RealName string `json:"RealName" validate:"max=100"`
	Phone    string `json:"Phone" validate:"max=20"`
}

// handleAdminUpdateMember edits a member's contact details and returns the refreshed detail view.
func handleAdminUpdateMember(w http.ResponseWriter, r *http.Request) {
	var req memberUpdateRequest
	if !decodeValid(w, r, &req) {
		return
	}
	_, err := orchestrators.ExecuteUpdateMember(r.Context(), orchestrators.UpdateMemberInput{
		MemberID: r.PathValue("id"),
		Email:    req.Email,
		Nickname: req.Nickname,
		RealName: req.RealName,
		Phone:    req.Phone,
	}, app.Accounts)
	if err != nil {
		writeError(w, err)
		return
	}
	handleAdminGetMember(w, r)
}

type giftRequest struct {
	MemberIDs []string `json:"MemberIDs" validate:"required,min=1,dive,required"`
}

// handleAdminGiftCourse queues a gift job; purchases appear once the worker runs it.
func handleAdminGiftCourse(w http.ResponseWriter, r *http.Request) {
	var req giftRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if err := orchestrators.ExecuteQueueCourseGift(r.Context(), r.PathValue("id"), req.MemberIDs, courseAdminDeps(), app.Queue); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"Members": len(req.MemberIDs)})
}

type batchEmailRequest struct {
	Subject   string   `json:"Subject" validate:"required,max=200"`
	Body      string   `json:"Body" validate:"required"`
	MemberIDs []string `json:"MemberIDs" validate:"required,min=1,dive,required"`
}

// handleAdminBatchEmail queues a Markdown broadcast in chunks.
func handleAdminBatchEmail(w http.ResponseWriter, r *http.Request) {
	var req batchEmailRequest
	if !decodeValid(w, r, &req) {
		return
	}
	jobs, err := orchestrators.ExecuteQueueBatchEmail(r.Context(), orchestrators.QueueBatchEmailInput{
		Subject:   req.Subject,
		Body:      req.Body,
		MemberIDs: req.MemberIDs,
	}, app.Queue)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"Jobs": jobs, "Members": len(req.MemberIDs)})
}
