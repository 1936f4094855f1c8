package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"laundry/internal/session"
)

type sessionKey string

const sessionCtx sessionKey = "session"

func (app *application) BasicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// read the auth header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("authorization header is missing"))
				return
			}

			// parse it -> get the base64
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Basic" {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("authorization header is malformed"))
				return
			}

			decoded, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				app.unauthorizedBasicErrorResponse(w, r, err)
				return
			}

			username := app.config.auth.basic.user
			pass := app.config.auth.basic.pass

			creds := strings.SplitN(string(decoded), ":", 2)
			if username == "" || len(creds) != 2 || creds[0] != username || creds[1] != pass {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("invalid credentials"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SessionMiddleware resolves the session cookie to a session id, starting a
// new session when the cookie is missing or no longer valid. The cookie is
// reissued on every request so an active checkout does not expire mid-flow.
func (app *application) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionID string
		if c, err := r.Cookie(session.CookieName); err == nil {
			sessionID, err = app.sessions.Parse(c.Value)
			if err != nil {
				app.logger.Debugw("discarding session cookie", "error", err)
				sessionID = ""
			}
		}

		var (
			token string
			err   error
		)
		if sessionID == "" {
			sessionID, token, err = app.sessions.New()
		} else {
			token, err = app.sessions.Issue(sessionID)
		}
		if err != nil {
			app.internalServerError(w, r, err)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     session.CookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   int(app.sessions.TTL().Seconds()),
			HttpOnly: true,
			Secure:   app.config.env == "production",
			// Lax keeps the cookie on the top-level GET back from the gateway.
			SameSite: http.SameSiteLaxMode,
		})

		ctx := context.WithValue(r.Context(), sessionCtx, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getSessionFromContext(r *http.Request) string {
	id, _ := r.Context().Value(sessionCtx).(string)
	return id
}

// RateLimiterMiddleware limits payment-initiating requests per session, falling
// back to the client address.
func (app *application) RateLimiterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if app.config.rateLimiter.Enabled {
			key := getSessionFromContext(r)
			if key == "" {
				key = r.RemoteAddr
			}
			if allow, retryAfter := app.rateLimiter.Allow(key); !allow {
				app.rateLimitExceededResponse(w, r, strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// noStore marks a response as never cacheable. Used on pages that carry
// payment state.
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
}
