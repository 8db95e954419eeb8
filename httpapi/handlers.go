package httpapi

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kuraykaraaslan/authcore"
	"github.com/kuraykaraaslan/authcore/device"
	"github.com/kuraykaraaslan/authcore/user"
)

const ssoStateCookie = "ssoState"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User            *user.User `json:"user"`
	OTPVerifyNeeded bool       `json:"otpVerifyNeeded"`
}

// publicUser strips server-side secrets before a user crosses the wire.
func publicUser(u *user.User) *user.User {
	cp := *u
	cp.Security.TOTPSecret = ""
	return &cp
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	usr, err := s.core.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	est, err := s.core.EstablishSession(r.Context(), usr, device.Fingerprint(r), false)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.setSessionCookies(w, est)
	writeJSON(w, http.StatusOK, sessionResponse{User: publicUser(usr), OTPVerifyNeeded: est.Session.OTPVerifyNeeded})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil || req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	usr, err := s.core.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	est, err := s.core.EstablishSession(r.Context(), usr, device.Fingerprint(r), true)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.setSessionCookies(w, est)
	writeJSON(w, http.StatusCreated, sessionResponse{User: publicUser(usr), OTPVerifyNeeded: false})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth, err := s.core.AuthenticateRequest(r, user.RoleUser)
	if err != nil {
		// A pending session may still log out.
		sess, _, perr := s.core.PendingSession(r)
		if perr != nil {
			s.clearSessionCookies(w)
			s.writeError(w, err)
			return
		}
		auth = &authcore.Auth{Session: sess}
	}

	if err := s.core.Logout(r.Context(), auth.Session); err != nil {
		s.writeError(w, err)
		return
	}
	s.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refresh, err := r.Cookie(authcore.CookieRefreshToken)
	if err != nil {
		s.writeError(w, authcore.ErrTokenInvalid)
		return
	}

	est, err := s.core.Refresh(r.Context(), refresh.Value, device.Fingerprint(r))
	if err != nil {
		s.clearSessionCookies(w)
		s.writeError(w, err)
		return
	}

	s.setSessionCookies(w, est)
	writeJSON(w, http.StatusOK, map[string]string{"message": "refreshed"})
}

func (s *Server) handleDestroyOthers(w http.ResponseWriter, r *http.Request) {
	auth, err := s.core.AuthenticateRequest(r, user.RoleUser)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.core.DestroyOtherSessions(r.Context(), auth.Session); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "other sessions destroyed"})
}

type otpRequest struct {
	Method user.OTPMethod `json:"method"`
	Code   string         `json:"code,omitempty"`
}

func (s *Server) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	sess, usr, err := s.core.PendingSession(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.core.SendOTP(r.Context(), sess, usr, req.Method); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "otp sent"})
}

func (s *Server) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	sess, usr, err := s.core.PendingSession(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.core.VerifyOTP(r.Context(), sess, usr, req.Method, req.Code); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "otp verified"})
}

func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	auth, err := s.core.AuthenticateRequest(r, user.RoleUser)
	if err != nil {
		s.writeError(w, err)
		return
	}

	setup, err := s.core.GenerateTOTPSetup(auth.User, s.cfg.TOTPIssuer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

type totpEnableRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

func (s *Server) handleTOTPEnable(w http.ResponseWriter, r *http.Request) {
	var req totpEnableRequest
	if err := decodeBody(r, &req); err != nil || req.Secret == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	auth, err := s.core.AuthenticateRequest(r, user.RoleUser)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.core.EnableTOTP(r.Context(), auth.User, req.Secret, req.Code); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "totp enabled"})
}

func (s *Server) handleTOTPDisable(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	auth, err := s.core.AuthenticateRequest(r, user.RoleUser)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.core.DisableTOTP(r.Context(), auth.User, req.Code); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "totp disabled"})
}

func (s *Server) handleSSORedirect(w http.ResponseWriter, r *http.Request) {
	state, err := newState()
	if err != nil {
		s.writeError(w, err)
		return
	}

	authURL, err := s.core.SSOAuthURL(chi.URLParam(r, "provider"), state)
	if err != nil {
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ssoStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

func (s *Server) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(ssoStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		s.writeError(w, authcore.ErrOAuth)
		return
	}

	est, err := s.core.SSOCallback(r.Context(),
		chi.URLParam(r, "provider"),
		r.URL.Query().Get("code"),
		device.Fingerprint(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.setSessionCookies(w, est)
	http.Redirect(w, r, s.cfg.PostLoginURL, http.StatusSeeOther)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	auth, err := s.core.AuthenticateRequest(r, user.RoleUser)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUser(auth.User))
}

func newState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
