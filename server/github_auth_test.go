// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ADML003/Nexus-AgentHack/agent"
	"github.com/ADML003/Nexus-AgentHack/tools"
)

const testJWTSecret = "test-secret"

// fakeGitHub stands in for both github.com and api.github.com.
func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			_, _ = w.Write([]byte(`{"error":"bad_verification_code","error_description":"The code is incorrect"}`))
			return
		}
		assert.Equal(t, "client-id", r.Form.Get("client_id"))
		assert.Equal(t, "client-secret", r.Form.Get("client_secret"))
		_, _ = w.Write([]byte(`{"access_token":"gh-token-123","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-token-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"login":"octocat","id":1,"name":"Octo Cat","avatar_url":"https://example.com/a.png"}`))
	})
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-token-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		_, _ = w.Write([]byte(`[{"name":"nexus"},{"name":"agenthack"}]`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newAuthedServer(t *testing.T) *Server {
	t.Helper()

	gh := fakeGitHub(t)
	auth := NewGitHubAuth(GitHubAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		JWTSecret:    testJWTSecret,
		OAuthBase:    gh.URL,
		APIBase:      gh.URL,
	})
	require.NotNil(t, auth)

	service := agent.NewService(agent.NewRegistry(), agent.NewOrchestrator())
	registry := tools.Load(context.Background(), tools.LoadOptions{})
	return NewServer(Config{Environment: "test"}, service, registry, auth)
}

func exchange(t *testing.T, s *Server, code string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, s, http.MethodPost, "/api/auth/github/exchange", `{"code":"`+code+`"}`)
}

func TestNewGitHubAuthRequiresCredentials(t *testing.T) {
	assert.Nil(t, NewGitHubAuth(GitHubAuthConfig{}))
	assert.Nil(t, NewGitHubAuth(GitHubAuthConfig{ClientID: "id", ClientSecret: "secret"}))
	assert.NotNil(t, NewGitHubAuth(GitHubAuthConfig{
		ClientID: "id", ClientSecret: "secret", JWTSecret: "jwt",
	}))
}

func TestExchangeFlow(t *testing.T) {
	s := newAuthedServer(t)

	rec := exchange(t, s, "good-code")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token string     `json:"token"`
		User  GitHubUser `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "octocat", body.User.Login)

	// The returned JWT must not carry the GitHub access token.
	assert.NotContains(t, body.Token, "gh-token-123")
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(body.Token, claims, func(t *jwt.Token) (any, error) {
		return []byte(testJWTSecret), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "octocat", claims["login"])
	assert.NotEmpty(t, claims["sid"])
}

func TestExchangeRejectedCode(t *testing.T) {
	s := newAuthedServer(t)

	rec := exchange(t, s, "wrong-code")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExchangeMissingCode(t *testing.T) {
	s := newAuthedServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/auth/github/exchange", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserProxy(t *testing.T) {
	s := newAuthedServer(t)

	rec := exchange(t, s, "good-code")
	require.Equal(t, http.StatusOK, rec.Code)
	var session struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/github/user", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	out := httptest.NewRecorder()
	s.Router().ServeHTTP(out, req)

	require.Equal(t, http.StatusOK, out.Code)
	assert.Contains(t, out.Body.String(), "octocat")
}

func TestReposProxy(t *testing.T) {
	s := newAuthedServer(t)

	rec := exchange(t, s, "good-code")
	require.Equal(t, http.StatusOK, rec.Code)
	var session struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/github/repos", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	out := httptest.NewRecorder()
	s.Router().ServeHTTP(out, req)

	require.Equal(t, http.StatusOK, out.Code)
	assert.Contains(t, out.Body.String(), "agenthack")
}

func TestProxyRejectsMissingToken(t *testing.T) {
	s := newAuthedServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/auth/github/user", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProxyRejectsForgedToken(t *testing.T) {
	s := newAuthedServer(t)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid": "made-up",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/github/user", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	out := httptest.NewRecorder()
	s.Router().ServeHTTP(out, req)

	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestProxyRejectsUnknownSession(t *testing.T) {
	s := newAuthedServer(t)

	orphan, err := s.auth.mintJWT("no-such-session", "ghost")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/github/user", nil)
	req.Header.Set("Authorization", "Bearer "+orphan)
	out := httptest.NewRecorder()
	s.Router().ServeHTTP(out, req)

	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestExpiredSessionPurged(t *testing.T) {
	s := newAuthedServer(t)

	rec := exchange(t, s, "good-code")
	require.Equal(t, http.StatusOK, rec.Code)
	var session struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	// Age the stored session past its TTL.
	s.auth.mu.Lock()
	for id, sess := range s.auth.sessions {
		sess.createdAt = time.Now().Add(-sessionTTL - time.Minute)
		s.auth.sessions[id] = sess
	}
	s.auth.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/api/auth/github/user", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	out := httptest.NewRecorder()
	s.Router().ServeHTTP(out, req)

	assert.Equal(t, http.StatusUnauthorized, out.Code)

	s.auth.mu.Lock()
	assert.Empty(t, s.auth.sessions, "expired session removed on lookup")
	s.auth.mu.Unlock()
}

func TestAbandonedSessionsSweptOnExchange(t *testing.T) {
	s := newAuthedServer(t)

	rec := exchange(t, s, "good-code")
	require.Equal(t, http.StatusOK, rec.Code)

	// Age the stored session past its TTL without ever presenting its JWT
	// again, then log in once more.
	s.auth.mu.Lock()
	for id, sess := range s.auth.sessions {
		sess.createdAt = time.Now().Add(-sessionTTL - time.Minute)
		s.auth.sessions[id] = sess
	}
	s.auth.mu.Unlock()

	rec = exchange(t, s, "good-code")
	require.Equal(t, http.StatusOK, rec.Code)

	s.auth.mu.Lock()
	assert.Len(t, s.auth.sessions, 1, "only the fresh session survives the sweep")
	for _, sess := range s.auth.sessions {
		assert.WithinDuration(t, time.Now(), sess.createdAt, time.Minute)
	}
	s.auth.mu.Unlock()
}
