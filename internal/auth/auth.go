// Package auth performs OpenID Connect authentication for the control
// surface. Every endpoint that can advance, halt, or approve a workflow sits
// behind it; with auth disabled the middleware passes requests through with
// a local reviewer identity.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"

	"protocol-foundry/backend/internal/config"
)

// ContextKeyReviewer is the echo context key carrying the authenticated
// reviewer's email.
const ContextKeyReviewer = "reviewer_email"

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Auth holds the OIDC provider handles for the login flow and for verifying
// tokens on API requests.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	logger       Logger
	enabled      bool
}

// New creates an Auth from the application configuration. With auth disabled
// no provider connection is made and the middleware bypasses verification.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	if !cfg.Auth.Enable {
		return &Auth{logger: logger}, nil
	}

	if cfg.Auth.Issuer == "" || cfg.Auth.ClientID == "" ||
		cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
		return nil, errors.New("auth configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.Auth.RedirectURL,
		Scopes:       AllScopes,
	}

	return &Auth{
		oauth2Config: oauth2Config,
		verifier:     provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID}),
		// Access tokens carry their own audience (e.g. "api://default"),
		// so the bearer verifier skips the client ID check.
		apiVerifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
		logger:      logger,
		enabled:     true,
	}, nil
}

// LoginHandler starts the OAuth2 authorization code flow. A random state
// value is stored in a cookie to mitigate CSRF.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !a.enabled {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Path:     "/",
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler handles the redirect back from the identity provider: it
// verifies the state parameter, exchanges the code, validates the ID token,
// and sets the session cookie.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if !a.enabled {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie("oauthstate")
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}

	if _, err := a.verifier.Verify(r.Context(), rawIDToken); err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// LogoutHandler clears the session cookie.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth is echo middleware guarding the control surface. It accepts a
// bearer access token or the session cookie and stores the reviewer's email
// on the request context.
func (a *Auth) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !a.enabled {
			c.Set(ContextKeyReviewer, "local@localhost")
			return next(c)
		}

		r := c.Request()
		var token *oidc.IDToken
		var err error

		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token, err = a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token: "+err.Error())
			}
		} else {
			cookie, cookieErr := r.Cookie("id_token")
			if cookieErr != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			token, err = a.verifier.Verify(r.Context(), cookie.Value)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token: "+err.Error())
			}
		}

		var claims struct {
			Email string   `json:"email"`
			Scp   []string `json:"scp"`
			Scope string   `json:"scope"`
		}
		if err := token.Claims(&claims); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "failed to parse token claims")
		}
		if claims.Email == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "token has no email claim")
		}

		// Session cookies carry no scope claim. Tokens that do must grant
		// the scope the request method needs.
		granted := claims.Scp
		if len(granted) == 0 && claims.Scope != "" {
			granted = strings.Fields(claims.Scope)
		}
		if len(granted) > 0 && !hasScope(granted, requiredScope(r.Method)) {
			return echo.NewHTTPError(http.StatusForbidden, "missing scope "+requiredScope(r.Method))
		}

		c.Set(ContextKeyReviewer, claims.Email)
		a.logger.Debug("authenticated request", "reviewer", claims.Email, "path", r.URL.Path)
		return next(c)
	}
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
