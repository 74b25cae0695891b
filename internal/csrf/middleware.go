package csrf

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/assessly/assessly/internal/platform/httpx"
)

// SessionIDFunc returns the session a request belongs to, empty when none.
type SessionIDFunc func(r *http.Request) string

// RejectFunc is told about every request refused for a bad token.
type RejectFunc func(r *http.Request, reason string)

type rejectBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Middleware issues a token cookie on safe requests and requires a valid
// token in the header or form field on state-changing ones.
func (s *Service) Middleware(sessionID SessionIDFunc, onReject RejectFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := sessionID(r)
			if isSafeMethod(r.Method) {
				if err := s.ensureCookie(w, r, sid); err != nil {
					logger.Error("csrf token issue failed", slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			if s.exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			res := s.Validate(sid, s.tokenFromRequest(r))
			if !res.Valid {
				logger.Warn("csrf validation failed",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.String("reason", res.Error))
				if onReject != nil {
					onReject(r, res.Error)
				}
				httpx.JSON(w, http.StatusForbidden, rejectBody{Error: "csrf_invalid", Message: res.Error})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Service) ensureCookie(w http.ResponseWriter, r *http.Request, sid string) error {
	if c, err := r.Cookie(s.cfg.CookieName); err == nil && s.Validate(sid, c.Value).Valid {
		return nil
	}
	token, err := s.Create(sid)
	if err != nil {
		return err
	}
	s.SetCookie(w, token)
	return nil
}

// SetCookie writes token in the CSRF cookie. Scripts must read it, so the
// cookie is not HttpOnly.
func (s *Service) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTimeout.Seconds()),
		Secure:   s.cfg.Secure,
		SameSite: s.cfg.SameSite,
	})
}

func (s *Service) tokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(s.cfg.HeaderName); token != "" {
		return token
	}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		return r.FormValue(s.cfg.FormField)
	}
	return ""
}

func (s *Service) exempt(path string) bool {
	for _, p := range s.cfg.ExemptPaths {
		if base, ok := strings.CutSuffix(p, "/*"); ok {
			if path == base || strings.HasPrefix(path, base+"/") {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
