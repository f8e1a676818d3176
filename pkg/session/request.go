package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/oltmanager/pkg/jwtx"
	"github.com/aussiebroadwan/oltmanager/pkg/notify"
	"github.com/aussiebroadwan/oltmanager/pkg/oltsdk"
)

// Request is an authorised API call; see oltsdk.Request.
type Request = oltsdk.Request

// Do performs req with the session's bearer token and decodes the response
// into out. A 401 triggers one refresh and one replay with Retried set; if
// either fails the session is cleared and ErrSessionExpired returned. Other
// API failures are surfaced to the Notifier and returned as *oltsdk.APIError.
func (m *Manager) Do(ctx context.Context, req Request, out any) error {
	epoch := m.currentEpoch()

	token, err := m.validToken(ctx)
	if err != nil {
		return err
	}

	err = m.client.Send(ctx, token, req, out)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if !oltsdk.IsUnauthorized(err) {
		m.surface(ctx, err)
		return err
	}

	if req.Retried {
		if m.logoutIfCurrent(epoch, ReasonExpired) {
			m.notifyExpired(ctx)
		}
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	if _, rerr := m.RefreshAccessToken(ctx); rerr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		m.notifyExpired(ctx)
		return fmt.Errorf("%w: %w", ErrSessionExpired, rerr)
	}

	req.Retried = true
	return m.Do(ctx, req, out)
}

// validToken returns the access token, refreshing first when it is a JWT
// that expires within the refresh window.
func (m *Manager) validToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	token := m.accessToken
	m.mu.RUnlock()

	if token == "" {
		return "", ErrNotAuthenticated
	}
	if !jwtx.ExpiresWithin(token, m.window, m.now()) {
		return token, nil
	}

	m.logger.Debug("access token near expiry, refreshing")
	fresh, err := m.RefreshAccessToken(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		m.notifyExpired(ctx)
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	return fresh, nil
}

// NeedsRefresh reports whether the access token is within the refresh window.
func (m *Manager) NeedsRefresh() bool {
	m.mu.RLock()
	token := m.accessToken
	m.mu.RUnlock()
	return token != "" && jwtx.ExpiresWithin(token, m.window, m.now())
}

func (m *Manager) surface(ctx context.Context, err error) {
	var apiErr *oltsdk.APIError
	if !errors.As(err, &apiErr) {
		return
	}

	n := notify.Notice{
		Level:    notify.LevelError,
		Message:  apiErr.UserMessage(),
		Duration: notify.DefaultDuration,
	}
	switch apiErr.Kind {
	case oltsdk.KindNetwork:
		n.Title = "Connection problem"
	case oltsdk.KindValidation:
		n.Level = notify.LevelWarning
		n.Title = "Validation error"
	case oltsdk.KindForbidden:
		n.Level = notify.LevelWarning
		n.Title = "Access denied"
	case oltsdk.KindServer:
		n.Title = "Server error"
	}

	m.logger.Warn("api request failed", "kind", string(apiErr.Kind), "status", apiErr.StatusCode, "error", err)
	m.notifier.Notify(ctx, n)
}

func (m *Manager) notifyExpired(ctx context.Context) {
	m.notifier.Notify(ctx, notify.Notice{
		Level:    notify.LevelWarning,
		Title:    "Session expired",
		Message:  "Your session has expired. Please log in again.",
		Duration: notify.DefaultDuration,
	})
}
