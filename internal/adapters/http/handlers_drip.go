package web

import (
	"errors"
	"net/http"

	"academy/internal/adapters/http/middleware"
	"academy/internal/application/orchestrators"
	dripDomain "academy/internal/domain/drip"
)

type dripSubscribeRequest struct {
	CourseID string `json:"CourseID" validate:"required"`
	Email    string `json:"Email" validate:"omitempty,email"`
}

type dripVerifyRequest struct {
	CourseID string `json:"CourseID" validate:"required"`
	Email    string `json:"Email" validate:"required,email"`
	Code     string `json:"Code" validate:"required,len=6,numeric"`
}

// subscribeResponse reports a new subscription. Deferred is set when the
// first lesson could not be mailed and will follow with the daily send.
type subscribeResponse struct {
	Subscription dripDomain.Subscription
	Deferred     bool             `json:",omitempty"`
	Login        *sessionResponse `json:",omitempty"`
}

// handleDripSubscribe subscribes a logged-in member at once. Guests get a
// verification code mailed to Email and finish through handleDripVerify.
func handleDripSubscribe(w http.ResponseWriter, r *http.Request) {
	var req dripSubscribeRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if sess, ok := middleware.GetSessionFromContext(r.Context()); ok {
		sub, err := app.Drip.Subscribe(r.Context(), sess.AccountID, req.CourseID)
		writeSubscribed(w, subscribeResponse{Subscription: sub}, err)
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": map[string]string{"Email": "Email is a required field"},
		})
		return
	}
	if err := app.Verification.RequestDripSubscription(r.Context(), req.Email, req.CourseID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "code sent"})
}

// handleDripVerify redeems the guest's code, logs them in and subscribes them.
func handleDripVerify(w http.ResponseWriter, r *http.Request) {
	var req dripVerifyRequest
	if !decodeValid(w, r, &req) {
		return
	}
	res, err := app.Verification.VerifyDripSubscription(r.Context(), orchestrators.DripVerifyInput{
		Email:    req.Email,
		CourseID: req.CourseID,
		Code:     req.Code,
		IP:       middleware.ClientIP(r),
	})
	resp := subscribeResponse{Subscription: res.Subscription}
	// A failed subscribe after a valid code still logs the guest in.
	if res.Login.AccountID != "" {
		if serr := startSession(w, r, res.Login); serr != nil {
			internalError(w, serr)
			return
		}
		resp.Login = &sessionResponse{AccountID: res.Login.AccountID, Email: res.Login.Email, Role: res.Login.Role, NewMember: res.NewMember}
	}
	writeSubscribed(w, resp, err)
}

func writeSubscribed(w http.ResponseWriter, resp subscribeResponse, err error) {
	switch {
	case errors.Is(err, orchestrators.ErrFirstLessonDeferred):
		resp.Deferred = true
		writeJSON(w, http.StatusAccepted, resp)
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusCreated, resp)
	}
}

type unsubscribeStatus struct {
	CourseName          string
	Status              string
	AlreadyUnsubscribed bool
}

// handleUnsubscribeStatus shows what the unsubscribe link will do without changing anything.
func handleUnsubscribeStatus(w http.ResponseWriter, r *http.Request) {
	sub, err := app.Subscriptions.GetByToken(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := unsubscribeStatus{Status: sub.Status, AlreadyUnsubscribed: sub.Status == dripDomain.StatusUnsubscribed}
	if c, err := app.Courses.GetByID(r.Context(), sub.CourseID); err == nil {
		resp.CourseName = c.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	res, err := app.Drip.Unsubscribe(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unsubscribeStatus{
		CourseName:          res.CourseName,
		Status:              res.Subscription.Status,
		AlreadyUnsubscribed: res.AlreadyUnsubscribed,
	})
}
