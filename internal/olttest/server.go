// Package olttest runs an in-process stand-in for the OLT Manager API: the
// /auth/* endpoints and the /ws/connect realtime socket. Tokens are real
// HS256 JWTs so client-side expiry inspection behaves as in production.
package olttest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/oltmanager/pkg/jwtx"
	"github.com/aussiebroadwan/oltmanager/pkg/oltsdk"
	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
)

// Seeded operator account.
const (
	Username = "noc"
	Password = "s3cret-pass"
)

type account struct {
	password   string
	totpSecret string
	user       oltsdk.User
}

// Server is a fake OLT Manager backend. All controls are safe for concurrent
// use from tests.
type Server struct {
	*httptest.Server

	Signer jwtx.HS256Signer

	mu         sync.Mutex
	accessTTL  time.Duration
	refreshTTL time.Duration
	nextID     int64
	accounts   map[string]*account
	issued     map[string]bool // access token jti
	revoked    map[string]bool

	includeUser   bool
	rejectRefresh bool
	refreshDelay  time.Duration
	wsReject      int

	loginCalls   int
	refreshCalls int
	meCalls      int

	upgrader websocket.Upgrader
	conns    map[*wsConn]struct{}
	upgrades int
	received []Frame
}

// NewServer starts a fake backend with the seeded operator account and
// stops it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		Signer:     jwtx.HS256Signer{Secret: []byte("olttest-signing-secret")},
		accessTTL:  time.Hour,
		refreshTTL: 24 * time.Hour,
		accounts:   make(map[string]*account),
		issued:     make(map[string]bool),
		revoked:    make(map[string]bool),
		conns:      make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.AddUser(Username, Password, oltsdk.RoleOperator, "olt:read", "ont:read")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /auth/me", s.handleMe)
	mux.HandleFunc("POST /auth/change-password", s.handleChangePassword)
	mux.HandleFunc("PUT /auth/profile", s.handleProfile)
	mux.HandleFunc("GET /olts", s.handleOLTs)
	mux.HandleFunc("GET /status/{code}", handleStatus)
	mux.HandleFunc("GET /ws/connect", s.handleWS)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Close drops realtime connections and stops the HTTP server.
func (s *Server) Close() {
	s.DropConns()
	s.Server.Close()
}

// APIURL is the base URL for oltsdk.
func (s *Server) APIURL() string { return s.URL }

// WSURL is the realtime endpoint URL.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/connect"
}

// AddUser registers an account and returns its profile.
func (s *Server) AddUser(username, password, role string, permissions ...string) oltsdk.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	u := oltsdk.User{
		ID:          s.nextID,
		Username:    username,
		FullName:    strings.ToUpper(username[:1]) + username[1:],
		Email:       username + "@olt.example.net",
		Role:        role,
		Permissions: permissions,
		IsActive:    true,
	}
	s.accounts[username] = &account{password: password, user: u}
	return u
}

// RequireTOTP makes logins for username demand a code for secret.
func (s *Server) RequireTOTP(username, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[username]; ok {
		a.totpSecret = secret
	}
}

// IssueTokens mints a token pair for username as a login would.
func (s *Server) IssueTokens(t testing.TB, username string) oltsdk.TokenResponse {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		t.Fatalf("olttest: unknown user %q", username)
	}
	tokens, err := s.issueLocked(a.user)
	if err != nil {
		t.Fatalf("olttest: issue tokens: %v", err)
	}
	return tokens
}

// RevokeAccessTokens invalidates every access token issued so far; refresh
// tokens keep working.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti := range s.issued {
		s.revoked[jti] = true
	}
}

// SetAccessTTL changes the lifetime of access tokens issued from now on.
func (s *Server) SetAccessTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = d
}

// SetRejectRefresh makes /auth/refresh answer 401.
func (s *Server) SetRejectRefresh(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectRefresh = reject
}

// SetRefreshDelay stalls /auth/refresh, widening the window for concurrent
// callers.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// SetIncludeUser makes login responses embed the user profile.
func (s *Server) SetIncludeUser(include bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.includeUser = include
}

func (s *Server) LoginCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *Server) MeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meCalls
}

func (s *Server) issueLocked(u oltsdk.User) (oltsdk.TokenResponse, error) {
	now := time.Now()
	sub := strconv.FormatInt(u.ID, 10)

	accessClaims := jwtx.NewClaims(sub, u.Username, u.Role, jwtx.TypeAccess, s.accessTTL, now)
	access, err := s.Signer.Sign(accessClaims)
	if err != nil {
		return oltsdk.TokenResponse{}, err
	}
	refresh, err := s.Signer.Sign(jwtx.NewClaims(sub, u.Username, u.Role, jwtx.TypeRefresh, s.refreshTTL, now))
	if err != nil {
		return oltsdk.TokenResponse{}, err
	}

	s.issued[accessClaims.ID] = true
	return oltsdk.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.accessTTL / time.Second),
	}, nil
}

var errUnauthorized = errors.New("unauthorized")

// authenticate resolves the bearer access token to its account.
func (s *Server) authenticate(r *http.Request) (*account, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return nil, errUnauthorized
	}
	return s.accountForAccess(token)
}

func (s *Server) accountForAccess(token string) (*account, error) {
	claims, err := s.Signer.Verify(token)
	if err != nil || claims.Type != jwtx.TypeAccess {
		return nil, errUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[claims.ID] {
		return nil, errUnauthorized
	}
	a, ok := s.accounts[claims.Username]
	if !ok {
		return nil, errUnauthorized
	}
	return a, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.loginCalls++
	s.mu.Unlock()

	var creds oltsdk.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if creds.Username == "" || creds.Password == "" {
		var missing []map[string]any
		if creds.Username == "" {
			missing = append(missing, map[string]any{"loc": []any{"body", "username"}, "msg": "field required"})
		}
		if creds.Password == "" {
			missing = append(missing, map[string]any{"loc": []any{"body", "password"}, "msg": "field required"})
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": missing})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[creds.Username]
	if !ok || a.password != creds.Password {
		writeDetail(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if a.totpSecret != "" && !totp.Validate(creds.OTPCode, a.totpSecret) {
		writeDetail(w, http.StatusUnauthorized, "Invalid one-time code")
		return
	}

	tokens, err := s.issueLocked(a.user)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if s.includeUser {
		u := a.user
		tokens.User = &u
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.refreshCalls++
	reject, delay := s.rejectRefresh, s.refreshDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if reject {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	token := body.RefreshToken
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	claims, err := s.Signer.Verify(token)
	if err != nil || claims.Type != jwtx.TypeRefresh {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[claims.Username]
	if !ok || !a.user.IsActive {
		writeDetail(w, http.StatusUnauthorized, "User not found or inactive")
		return
	}
	tokens, err := s.issueLocked(a.user)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.meCalls++
	s.mu.Unlock()

	a, err := s.authenticate(r)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	s.mu.Lock()
	u := a.user
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	a, err := s.authenticate(r)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	var req oltsdk.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.NewPassword) < 8 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   true,
			"message": "Validation error",
			"details": []map[string]any{{
				"loc": []any{"body", "new_password"},
				"msg": "Password must be at least 8 characters long",
			}},
		})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a.password != req.CurrentPassword {
		writeDetail(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	a.password = req.NewPassword
	writeJSON(w, http.StatusOK, oltsdk.MessageResponse{Message: "Password changed successfully"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	a, err := s.authenticate(r)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	var upd oltsdk.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if upd.Email != nil {
		a.user.Email = *upd.Email
	}
	if upd.FullName != nil {
		a.user.FullName = *upd.FullName
	}
	writeJSON(w, http.StatusOK, a.user)
}

// handleOLTs is a representative authorised resource.
func (s *Server) handleOLTs(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, []map[string]any{
		{"id": 1, "name": "olt-core-01", "status": "online"},
		{"id": 2, "name": "olt-edge-02", "status": "offline"},
	})
}

// handleStatus answers with the requested status, for error classification.
func handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 200 || code > 599 {
		code = http.StatusBadRequest
	}
	writeDetail(w, code, http.StatusText(code))
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
