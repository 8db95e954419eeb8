// Package httpapi is the HTTP transport over the authentication core.
// Tokens travel in httpOnly cookies only; response bodies never carry
// a raw token.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kuraykaraaslan/authcore"
	"github.com/kuraykaraaslan/authcore/session"
)

// Config tunes the transport layer.
type Config struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	TOTPIssuer      string
	SecureCookies   bool

	// PostLoginURL is where a completed SSO callback sends the browser.
	// Defaults to "/".
	PostLoginURL string
}

// Server bundles the router and its dependencies.
type Server struct {
	core *authcore.Orchestrator
	cfg  Config
	log  *zap.Logger
}

// NewServer wires the handler set.
func NewServer(core *authcore.Orchestrator, cfg Config, log *zap.Logger) *Server {
	if cfg.PostLoginURL == "" {
		cfg.PostLoginURL = "/"
	}
	return &Server{core: core, cfg: cfg, log: log}
}

// Router builds the chi router with all auth routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/login", s.handleLogin)
	r.Post("/register", s.handleRegister)
	r.Post("/logout", s.handleLogout)
	r.Post("/refresh", s.handleRefresh)
	r.Post("/sessions/destroy-others", s.handleDestroyOthers)

	r.Post("/otp/send", s.handleOTPSend)
	r.Post("/otp/verify", s.handleOTPVerify)
	r.Post("/totp/setup", s.handleTOTPSetup)
	r.Post("/totp/enable", s.handleTOTPEnable)
	r.Post("/totp/disable", s.handleTOTPDisable)

	r.Get("/sso/{provider}", s.handleSSORedirect)
	r.Get("/callback/{provider}", s.handleSSOCallback)

	r.Get("/me", s.handleMe)

	return r
}

func (s *Server) setSessionCookies(w http.ResponseWriter, est *session.Established) {
	http.SetCookie(w, &http.Cookie{
		Name:     authcore.CookieAccessToken,
		Value:    est.AccessToken,
		Path:     "/",
		MaxAge:   int(s.cfg.AccessTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     authcore.CookieRefreshToken,
		Value:    est.RefreshToken,
		Path:     "/",
		MaxAge:   int(s.cfg.RefreshTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{authcore.CookieAccessToken, authcore.CookieRefreshToken} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cfg.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the core taxonomy onto HTTP statuses. Credential and
// token failures share one generic 401 body; internal detail never
// reaches the response.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authcore.ErrInvalidEmailOrPassword),
		errors.Is(err, authcore.ErrTokenInvalid),
		errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrSessionNotFound),
		errors.Is(err, authcore.ErrRefreshTokenReused),
		errors.Is(err, authcore.ErrOAuth):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})

	case errors.Is(err, authcore.ErrOTPNeeded):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "otp verification needed"})
	case errors.Is(err, authcore.ErrInsufficientRole),
		errors.Is(err, authcore.ErrRegistrationDisabled):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})

	case errors.Is(err, authcore.ErrRateLimitExceeded):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})

	case errors.Is(err, authcore.ErrEmailTaken):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})

	// A provider off the allow list is an unknown resource, not a bad
	// request against a known one.
	case errors.Is(err, authcore.ErrInvalidProvider):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})

	case errors.Is(err, authcore.ErrOTPNotNeeded),
		errors.Is(err, authcore.ErrInvalidOTPMethod),
		errors.Is(err, authcore.ErrInvalidOTP),
		errors.Is(err, authcore.ErrOTPExpired),
		errors.Is(err, authcore.ErrTOTPNotEnrolled),
		errors.Is(err, authcore.ErrCodeNotFound),
		errors.Is(err, authcore.ErrEmailNotFound):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})

	default:
		s.log.Error("unhandled request error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}
