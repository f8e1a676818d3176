// Package session owns the operator's authenticated session against the OLT
// Manager API: the access/refresh token pair, the current user, transparent
// recovery from access-token expiry and role/permission queries.
//
// A Manager is safe for concurrent use. Token refresh is single-flight: any
// number of concurrent callers share one /auth/refresh request and observe
// the same outcome.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/oltmanager/internal/credstore"
	"github.com/aussiebroadwan/oltmanager/pkg/notify"
	"github.com/aussiebroadwan/oltmanager/pkg/oltsdk"
	"github.com/aussiebroadwan/oltmanager/pkg/slogx"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotAuthenticated is returned for authorised calls without a session.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrSessionExpired means the session could not be recovered and has
	// been cleared.
	ErrSessionExpired = errors.New("session: expired")
)

// DefaultRefreshWindow is how close to expiry an access token may get before
// an authorised request refreshes it first.
const DefaultRefreshWindow = 30 * time.Second

// Config wires a Manager to its collaborators.
type Config struct {
	Client   *oltsdk.SDKClient
	Store    credstore.Store
	Notifier notify.Notifier
	Logger   *slog.Logger

	// RefreshWindow defaults to DefaultRefreshWindow.
	RefreshWindow time.Duration

	// Now is the clock used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// Manager owns the token pair and current user for one operator session.
type Manager struct {
	client   *oltsdk.SDKClient
	store    credstore.Store
	notifier notify.Notifier
	logger   *slog.Logger
	window   time.Duration
	now      func() time.Time

	// storeMu orders credential store writes with the in-memory changes
	// they mirror. Lock it before mu.
	storeMu sync.Mutex

	mu           sync.RWMutex
	epoch        uint64 // bumped by every login and logout
	accessToken  string
	refreshToken string
	user         *oltsdk.User

	refreshGroup singleflight.Group

	subsMu sync.Mutex
	subs   []*subscriber
}

// New constructs a Manager. Client and Store are required.
func New(cfg Config) *Manager {
	if cfg.Client == nil {
		panic("session: Config.Client is required")
	}
	if cfg.Store == nil {
		panic("session: Config.Store is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = DefaultRefreshWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		client:   cfg.Client,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   slogx.OrDefault(cfg.Logger).With("component", "session"),
		window:   cfg.RefreshWindow,
		now:      cfg.Now,
	}
}

// AccessToken returns the current access token, or "" when signed out.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

// User returns a copy of the current user, or nil when signed out.
func (m *Manager) User() *oltsdk.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneUser(m.user)
}

// IsAuthenticated reports whether both an access token and a user are set.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken != "" && m.user != nil
}

// HasRole reports whether the user holds role. Admins hold every role.
func (m *Manager) HasRole(role string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.user == nil {
		return false
	}
	return m.user.Role == oltsdk.RoleAdmin || m.user.Role == role
}

// HasPermission reports whether the user holds permission p. Admins hold
// every permission.
func (m *Manager) HasPermission(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.user == nil {
		return false
	}
	if m.user.Role == oltsdk.RoleAdmin {
		return true
	}
	return m.user.HasPermission(p)
}

func cloneUser(u *oltsdk.User) *oltsdk.User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Permissions != nil {
		c.Permissions = append([]string(nil), u.Permissions...)
	}
	return &c
}
