// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ADML003/Nexus-AgentHack/shared/logger"
)

const (
	defaultOAuthBase = "https://github.com"
	defaultAPIBase   = "https://api.github.com"

	// sessionTTL bounds how long an exchanged GitHub token is usable.
	sessionTTL = 24 * time.Hour
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// GitHubAuth implements the OAuth code exchange and the authenticated
// GitHub API proxy. The GitHub access token never leaves the process:
// clients get a signed JWT referencing a server-side session, and the
// proxy endpoints attach the stored token upstream.
type GitHubAuth struct {
	clientID     string
	clientSecret string
	jwtSecret    []byte
	oauthBase    string
	apiBase      string
	client       HTTPClient
	log          *logger.Logger

	mu       sync.Mutex
	sessions map[string]githubSession
}

type githubSession struct {
	accessToken string
	login       string
	createdAt   time.Time
}

// GitHubAuthConfig configures NewGitHubAuth.
type GitHubAuthConfig struct {
	ClientID     string
	ClientSecret string
	JWTSecret    string
	OAuthBase    string     // Optional: override for tests
	APIBase      string     // Optional: override for tests
	HTTPClient   HTTPClient // Optional: injected transport for tests
}

// NewGitHubAuth creates the auth handler, or nil when any credential is
// missing so the routes can answer 503 instead.
func NewGitHubAuth(cfg GitHubAuthConfig) *GitHubAuth {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.JWTSecret == "" {
		return nil
	}
	if cfg.OAuthBase == "" {
		cfg.OAuthBase = defaultOAuthBase
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &GitHubAuth{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		jwtSecret:    []byte(cfg.JWTSecret),
		oauthBase:    strings.TrimRight(cfg.OAuthBase, "/"),
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		client:       cfg.HTTPClient,
		log:          logger.New("github-auth"),
		sessions:     make(map[string]githubSession),
	}
}

func (s *Server) githubExchangeHandler(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		sendErrorResponse(w, http.StatusServiceUnavailable, "GitHub OAuth is not configured")
		return
	}
	s.auth.exchangeHandler(w, r)
}

func (s *Server) githubUserHandler(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		sendErrorResponse(w, http.StatusServiceUnavailable, "GitHub OAuth is not configured")
		return
	}
	s.auth.proxyHandler(w, r, "/user")
}

func (s *Server) githubReposHandler(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		sendErrorResponse(w, http.StatusServiceUnavailable, "GitHub OAuth is not configured")
		return
	}
	s.auth.proxyHandler(w, r, "/user/repos?sort=updated&per_page=50")
}

type exchangeRequest struct {
	Code string `json:"code"`
}

// exchangeHandler trades an OAuth code for a GitHub access token, stores
// the token server-side, and returns a JWT plus the user profile.
func (a *GitHubAuth) exchangeHandler(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		sendErrorResponse(w, http.StatusBadRequest, "Missing OAuth code")
		return
	}

	accessToken, err := a.exchangeCode(r, req.Code)
	if err != nil {
		a.log.Warn("", "OAuth code exchange failed", map[string]any{"error": err.Error()})
		sendErrorResponse(w, http.StatusUnauthorized, "GitHub rejected the OAuth code")
		return
	}

	user, err := a.fetchUser(r, accessToken)
	if err != nil {
		a.log.Warn("", "GitHub user fetch failed", map[string]any{"error": err.Error()})
		sendErrorResponse(w, http.StatusBadGateway, "Could not load the GitHub profile")
		return
	}

	sessionID := uuid.NewString()
	a.mu.Lock()
	// Abandoned sessions would otherwise accumulate until restart, since
	// lookup only purges the session being presented.
	for id, session := range a.sessions {
		if time.Since(session.createdAt) > sessionTTL {
			delete(a.sessions, id)
		}
	}
	a.sessions[sessionID] = githubSession{
		accessToken: accessToken,
		login:       user.Login,
		createdAt:   time.Now(),
	}
	a.mu.Unlock()

	token, err := a.mintJWT(sessionID, user.Login)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "Could not create session token")
		return
	}

	a.log.Info("", "GitHub session created", map[string]any{"login": user.Login})
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

// proxyHandler relays a GitHub API GET for the authenticated session.
func (a *GitHubAuth) proxyHandler(w http.ResponseWriter, r *http.Request, path string) {
	session, ok := a.authenticate(r)
	if !ok {
		sendErrorResponse(w, http.StatusUnauthorized, "Invalid or expired session")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, a.apiBase+path, nil)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, "Could not build upstream request")
		return
	}
	req.Header.Set("Authorization", "Bearer "+session.accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.client.Do(req)
	if err != nil {
		sendErrorResponse(w, http.StatusBadGateway, "GitHub API is unreachable")
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		a.log.Warn("", "relaying GitHub response failed", map[string]any{"error": err.Error()})
	}
}

// authenticate resolves the bearer JWT into a live session, purging it
// when expired.
func (a *GitHubAuth) authenticate(r *http.Request) (githubSession, bool) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return githubSession{}, false
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return githubSession{}, false
	}

	sessionID, _ := claims["sid"].(string)
	if sessionID == "" {
		return githubSession{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	session, ok := a.sessions[sessionID]
	if !ok {
		return githubSession{}, false
	}
	if time.Since(session.createdAt) > sessionTTL {
		delete(a.sessions, sessionID)
		return githubSession{}, false
	}
	return session, true
}

func (a *GitHubAuth) mintJWT(sessionID, login string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid":   sessionID,
		"login": login,
		"iat":   now.Unix(),
		"exp":   now.Add(sessionTTL).Unix(),
	})
	return token.SignedString(a.jwtSecret)
}

func (a *GitHubAuth) exchangeCode(r *http.Request, code string) (string, error) {
	form := url.Values{
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
		"code":          {code},
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		a.oauthBase+"/login/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var parsed struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("%s: %s", parsed.Error, parsed.ErrorDescription)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access token")
	}
	return parsed.AccessToken, nil
}

// GitHubUser is the subset of the profile returned to clients.
type GitHubUser struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

func (a *GitHubAuth) fetchUser(r *http.Request, accessToken string) (*GitHubUser, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, a.apiBase+"/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub user endpoint returned status %d", resp.StatusCode)
	}

	var user GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding user profile: %w", err)
	}
	return &user, nil
}
