package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/oltmanager/internal/credstore"
	"github.com/aussiebroadwan/oltmanager/pkg/notify"
	"github.com/aussiebroadwan/oltmanager/pkg/oltsdk"
)

// storeTimeout bounds credential store writes that run without a caller
// context.
const storeTimeout = 5 * time.Second

// Initialize restores a persisted session. With a stored refresh token it
// verifies the stored access token against /auth/me; if that fails it tries
// exactly one refresh. A failed refresh clears the stored credentials and
// leaves the Manager signed out. Nothing is installed in memory until the
// profile is known. Only credential store failures and ctx errors are
// returned.
func (m *Manager) Initialize(ctx context.Context) error {
	epoch := m.currentEpoch()

	tokens, err := credstore.LoadTokens(ctx, m.store)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if tokens.RefreshToken == "" {
		m.logger.Debug("no stored session")
		return nil
	}

	if tokens.AccessToken != "" {
		user, err := m.client.Me(ctx, tokens.AccessToken)
		if err == nil {
			m.restore(ctx, epoch, tokens, user, "session restored")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.logger.Info("stored access token rejected, refreshing", "error", err)
	}

	resp, err := m.client.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.logger.Warn("stored session could not be refreshed", "error", err)
		m.logoutIfCurrent(epoch, ReasonExpired)
		return nil
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = tokens.RefreshToken
	}

	user, err := m.client.Me(ctx, resp.AccessToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.logger.Warn("profile fetch after refresh failed", "error", err)
		m.logoutIfCurrent(epoch, ReasonExpired)
		return nil
	}

	m.restore(ctx, epoch, credstore.Tokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}, user, "session restored after refresh")
	return nil
}

func (m *Manager) restore(ctx context.Context, epoch uint64, pair credstore.Tokens, user *oltsdk.User, msg string) {
	if !m.install(ctx, epoch, pair, user) {
		m.logger.Info("stored session superseded during restore")
		return
	}
	m.emit(Event{Authenticated: true, User: cloneUser(user), Reason: ReasonRestored})
	m.logger.Info(msg, "username", user.Username)
}

// Login authenticates with creds. On failure the existing session, if any,
// is left untouched. A successful login replaces any session, including one
// being refreshed concurrently.
func (m *Manager) Login(ctx context.Context, creds oltsdk.Credentials) (*oltsdk.User, error) {
	tokens, err := m.client.Login(ctx, creds)
	if err != nil {
		m.notifyLoginFailure(ctx, err)
		return nil, err
	}

	user := tokens.User
	if user == nil {
		user, err = m.client.Me(ctx, tokens.AccessToken)
		if err != nil {
			m.notifyLoginFailure(ctx, err)
			return nil, fmt.Errorf("fetch profile: %w", err)
		}
	}

	m.storeMu.Lock()
	m.mu.Lock()
	m.epoch++
	m.accessToken = tokens.AccessToken
	m.refreshToken = tokens.RefreshToken
	m.user = cloneUser(user)
	m.mu.Unlock()

	if err := credstore.SaveTokens(ctx, m.store, credstore.Tokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}); err != nil {
		m.logger.Warn("failed to persist credentials", "error", err)
	}
	m.storeMu.Unlock()

	m.emit(Event{Authenticated: true, User: cloneUser(user), Reason: ReasonLogin})

	m.logger.Info("logged in", "username", user.Username, "role", user.Role)
	m.notifier.Notify(ctx, notify.Notice{
		Level:    notify.LevelSuccess,
		Title:    "Login successful",
		Message:  "Welcome, " + displayName(user),
		Duration: notify.DefaultDuration,
	})
	return cloneUser(user), nil
}

// Logout clears the stored and in-memory session. It never fails; storage
// errors are logged.
func (m *Manager) Logout() {
	m.clearSession(ReasonLogout, 0, false)
}

// logoutIfCurrent clears the session only if no login or logout happened
// since epoch was read.
func (m *Manager) logoutIfCurrent(epoch uint64, reason Reason) bool {
	return m.clearSession(reason, epoch, true)
}

func (m *Manager) clearSession(reason Reason, epoch uint64, checked bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	m.storeMu.Lock()
	m.mu.Lock()
	if checked && m.epoch != epoch {
		m.mu.Unlock()
		m.storeMu.Unlock()
		return false
	}
	m.epoch++
	m.accessToken = ""
	m.refreshToken = ""
	m.user = nil
	m.mu.Unlock()

	if err := credstore.ClearTokens(ctx, m.store); err != nil {
		m.logger.Warn("failed to clear stored credentials", "error", err)
	}
	m.storeMu.Unlock()

	m.logger.Info("session cleared", "reason", string(reason))
	m.emit(Event{Authenticated: false, Reason: reason})
	return true
}

// install stores pair, and user when non-nil, if the session is still the
// one observed at epoch. Installing a user starts a new epoch.
func (m *Manager) install(ctx context.Context, epoch uint64, pair credstore.Tokens, user *oltsdk.User) bool {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return false
	}
	m.accessToken = pair.AccessToken
	m.refreshToken = pair.RefreshToken
	if user != nil {
		m.user = cloneUser(user)
		m.epoch++
	}
	m.mu.Unlock()

	if err := credstore.SaveTokens(ctx, m.store, pair); err != nil {
		m.logger.Warn("failed to persist credentials", "error", err)
	}
	return true
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// RefreshAccessToken exchanges the refresh token for a new pair and returns
// the new access token. Concurrent callers share one request. On failure the
// session is cleared. A refresh that completes after a logout or login is
// discarded and reported as ErrNotAuthenticated. Cancelling ctx abandons the
// wait but not the shared refresh.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	ch := m.refreshGroup.DoChan("refresh", func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	refreshToken := m.refreshToken
	epoch := m.epoch
	m.mu.RUnlock()

	if refreshToken == "" {
		m.logoutIfCurrent(epoch, ReasonExpired)
		return "", ErrNotAuthenticated
	}

	tokens, err := m.client.Refresh(ctx, refreshToken)
	if err != nil {
		m.logoutIfCurrent(epoch, ReasonExpired)
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}

	if !m.install(ctx, epoch, credstore.Tokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, nil) {
		m.logger.Info("discarding refresh that finished after the session changed")
		return "", ErrNotAuthenticated
	}

	m.logger.Debug("access token refreshed")
	if user := m.User(); user != nil {
		m.emit(Event{Authenticated: true, User: user, Reason: ReasonRefresh})
	}
	return tokens.AccessToken, nil
}

// ChangePassword changes the signed-in user's password.
func (m *Manager) ChangePassword(ctx context.Context, current, next string) error {
	err := m.Do(ctx, oltsdk.ChangePasswordCall(oltsdk.ChangePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	}), nil)
	if err != nil {
		return err
	}

	m.notifier.Notify(ctx, notify.Notice{
		Level:    notify.LevelSuccess,
		Message:  "Password changed successfully",
		Duration: notify.DefaultDuration,
	})
	return nil
}

// UpdateProfile stores upd and replaces the in-memory user with the result.
func (m *Manager) UpdateProfile(ctx context.Context, upd oltsdk.ProfileUpdate) (*oltsdk.User, error) {
	var user oltsdk.User
	if err := m.Do(ctx, oltsdk.UpdateProfileCall(upd), &user); err != nil {
		return nil, err
	}

	if !m.replaceUser(&user) {
		return nil, ErrNotAuthenticated
	}
	m.notifier.Notify(ctx, notify.Notice{
		Level:    notify.LevelSuccess,
		Message:  "Profile updated",
		Duration: notify.DefaultDuration,
	})
	return cloneUser(&user), nil
}

// replaceUser swaps the profile of the signed-in user. It does nothing once
// the session has been cleared.
func (m *Manager) replaceUser(u *oltsdk.User) bool {
	m.mu.Lock()
	if m.accessToken == "" {
		m.mu.Unlock()
		return false
	}
	m.user = cloneUser(u)
	m.mu.Unlock()

	m.emit(Event{Authenticated: true, User: cloneUser(u), Reason: ReasonProfile})
	return true
}

func (m *Manager) notifyLoginFailure(ctx context.Context, err error) {
	msg := "Login failed. Please try again."

	var apiErr *oltsdk.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Kind == oltsdk.KindNetwork || apiErr.Kind == oltsdk.KindValidation:
			msg = apiErr.UserMessage()
		case apiErr.Message != "":
			msg = apiErr.Message
		}
	}

	m.logger.Info("login failed", "error", err)
	m.notifier.Notify(ctx, notify.Notice{
		Level:    notify.LevelError,
		Title:    "Login failed",
		Message:  msg,
		Duration: notify.DefaultDuration,
	})
}

func displayName(u *oltsdk.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
