package web

import (
	"errors"
	"log/slog"
	"net/http"

	"academy/internal/adapters/http/middleware"
	"academy/internal/application/orchestrators"
)

type loginRequest struct {
	Email    string `json:"Email" validate:"required,email"`
	Password string `json:"Password" validate:"required"`
}

type sendCodeRequest struct {
	Email string `json:"Email" validate:"required,email"`
}

type codeLoginRequest struct {
	Email      string `json:"Email" validate:"required,email"`
	Code       string `json:"Code" validate:"required,len=6,numeric"`
	AgreeTerms bool   `json:"AgreeTerms"`
}

// sessionResponse is returned by every endpoint that starts a session.
type sessionResponse struct {
	AccountID string
	Email     string
	Role      string
	NewMember bool `json:",omitempty"`
}

// startSession replaces any existing session with a fresh one for the account.
func startSession(w http.ResponseWriter, r *http.Request, res orchestrators.LoginResult) error {
	if c, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessions.Delete(c.Value)
	}
	token, err := sessions.Create(res.AccountID, res.Email, res.Role)
	if err != nil {
		return err
	}
	middleware.SetSessionCookie(w, token, sessionTTL)
	return nil
}

// handleLogin authenticates staff by password.
func handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeValid(w, r, &req) {
		return
	}
	res, err := orchestrators.ExecuteLogin(r.Context(), orchestrators.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		IP:       middleware.ClientIP(r),
	}, orchestrators.LoginDeps{AccountStore: app.Accounts, Now: app.Now})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := startSession(w, r, res); err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{AccountID: res.AccountID, Email: res.Email, Role: res.Role})
}

// handleLoginSendCode mails a one-time login code.
func handleLoginSendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if err := app.Verification.SendCode(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "code sent"})
}

// handleLoginVerify redeems a login code, creating the member on first login.
func handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req codeLoginRequest
	if !decodeValid(w, r, &req) {
		return
	}
	res, err := app.Verification.LoginWithCode(r.Context(), orchestrators.CodeLoginInput{
		Email:      req.Email,
		Code:       req.Code,
		IP:         middleware.ClientIP(r),
		AgreeTerms: req.AgreeTerms,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := startSession(w, r, res); err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{AccountID: res.AccountID, Email: res.Email, Role: res.Role})
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessions.Delete(c.Value)
	}
	middleware.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	ID          string
	Email       string
	Nickname    string
	RealName    string
	Phone       string
	Role        string
	HasPassword bool
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	acct, err := app.Accounts.GetByID(r.Context(), currentSession(r).AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:          acct.ID,
		Email:       acct.Email,
		Nickname:    acct.Nickname,
		RealName:    acct.RealName,
		Phone:       acct.Phone,
		Role:        acct.Role,
		HasPassword: acct.PasswordHash != "",
	})
}

type profileRequest struct {
	Nickname string `json:"Nickname" validate:"max=100"`
	RealName string `json:"RealName" validate:"max=100"`
	Phone    string `json:"Phone" validate:"max=20"`
}

func handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeValid(w, r, &req) {
		return
	}
	err := orchestrators.ExecuteUpdateProfile(r.Context(), orchestrators.UpdateProfileInput{
		AccountID: currentSession(r).AccountID,
		Nickname:  req.Nickname,
		RealName:  req.RealName,
		Phone:     req.Phone,
	}, app.Accounts)
	if err != nil {
		writeError(w, err)
		return
	}
	handleMe(w, r)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"CurrentPassword" validate:"required"`
	NewPassword     string `json:"NewPassword" validate:"required,min=8"`
}

// handleChangePassword replaces a staff password. Passwordless members get a 422.
func handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeValid(w, r, &req) {
		return
	}
	sess := currentSession(r)
	err := orchestrators.ExecuteChangePassword(r.Context(), orchestrators.ChangePasswordInput{
		AccountID:       sess.AccountID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	}, orchestrators.ChangePasswordDeps{AccountStore: app.Accounts})
	if errors.Is(err, orchestrators.ErrCurrentPasswordWrong) {
		slog.Warn("auth_event", "event", "password_change_rejected", "account_id", sess.AccountID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
