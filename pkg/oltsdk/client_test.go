package oltsdk_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/aussiebroadwan/oltmanager/internal/olttest"
	"github.com/aussiebroadwan/oltmanager/pkg/oltsdk"
	"github.com/aussiebroadwan/oltmanager/pkg/slogx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*oltsdk.SDKClient, *olttest.Server) {
	t.Helper()
	srv := olttest.NewServer(t)
	c := oltsdk.NewSDKClient(srv.APIURL()+"/", slogx.Discard())
	c.SetRateLimit(0, 0)
	return c, srv
}

func TestLoginAndMe(t *testing.T) {
	t.Parallel()
	c, srv := newClient(t)

	tokens, err := c.Login(t.Context(), oltsdk.Credentials{Username: olttest.Username, Password: olttest.Password})
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.Nil(t, tokens.User)

	user, err := c.Me(t.Context(), tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, olttest.Username, user.Username)
	require.Equal(t, oltsdk.RoleOperator, user.Role)
	require.True(t, user.HasPermission("olt:read"))
	require.False(t, user.HasPermission("olt:write"))
	require.Equal(t, 1, srv.LoginCalls())
}

func TestLoginIncludesUserWhenServerSendsIt(t *testing.T) {
	t.Parallel()
	c, srv := newClient(t)
	srv.SetIncludeUser(true)

	tokens, err := c.Login(t.Context(), oltsdk.Credentials{Username: olttest.Username, Password: olttest.Password})
	require.NoError(t, err)
	require.NotNil(t, tokens.User)
	require.Equal(t, olttest.Username, tokens.User.Username)
}

func TestLoginFailures(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)

	t.Run("bad password", func(t *testing.T) {
		_, err := c.Login(t.Context(), oltsdk.Credentials{Username: olttest.Username, Password: "nope"})
		var apiErr *oltsdk.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, oltsdk.KindUnauthorized, apiErr.Kind)
		require.Equal(t, "Invalid username or password", apiErr.Message)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := c.Login(t.Context(), oltsdk.Credentials{})
		var apiErr *oltsdk.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, oltsdk.KindValidation, apiErr.Kind)
		require.Len(t, apiErr.Fields, 2)
		require.Contains(t, apiErr.UserMessage(), "username: field required")
	})
}

func TestLoginWithTOTP(t *testing.T) {
	t.Parallel()
	c, srv := newClient(t)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "OLT Manager", AccountName: olttest.Username})
	require.NoError(t, err)
	srv.RequireTOTP(olttest.Username, key.Secret())

	_, err = c.Login(t.Context(), oltsdk.Credentials{Username: olttest.Username, Password: olttest.Password})
	require.True(t, oltsdk.IsUnauthorized(err))

	code, err := oltsdk.TOTPCode(key.Secret(), time.Now())
	require.NoError(t, err)

	_, err = c.Login(t.Context(), oltsdk.Credentials{Username: olttest.Username, Password: olttest.Password, OTPCode: code})
	require.NoError(t, err)
}

func TestTOTPCodeRejectsEmptySecret(t *testing.T) {
	t.Parallel()
	_, err := oltsdk.TOTPCode("  ", time.Now())
	require.Error(t, err)
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	c, srv := newClient(t)
	initial := srv.IssueTokens(t, olttest.Username)

	tokens, err := c.Refresh(t.Context(), initial.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, initial.AccessToken, tokens.AccessToken)
	require.Equal(t, 1, srv.RefreshCalls())

	srv.SetRejectRefresh(true)
	_, err = c.Refresh(t.Context(), tokens.RefreshToken)
	require.True(t, oltsdk.IsUnauthorized(err))
}

func TestProfileAndPassword(t *testing.T) {
	t.Parallel()
	c, srv := newClient(t)
	tokens := srv.IssueTokens(t, olttest.Username)

	name := "Network Operations"
	user, err := c.UpdateProfile(t.Context(), tokens.AccessToken, oltsdk.ProfileUpdate{FullName: &name})
	require.NoError(t, err)
	require.Equal(t, name, user.FullName)

	err = c.ChangePassword(t.Context(), tokens.AccessToken, oltsdk.ChangePasswordRequest{
		CurrentPassword: "wrong-password",
		NewPassword:     "another-long-pass",
	})
	var apiErr *oltsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, "Current password is incorrect", apiErr.UserMessage())

	err = c.ChangePassword(t.Context(), tokens.AccessToken, oltsdk.ChangePasswordRequest{
		CurrentPassword: olttest.Password,
		NewPassword:     "short",
	})
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, oltsdk.KindValidation, apiErr.Kind)

	err = c.ChangePassword(t.Context(), tokens.AccessToken, oltsdk.ChangePasswordRequest{
		CurrentPassword: olttest.Password,
		NewPassword:     "another-long-pass",
	})
	require.NoError(t, err)
}

func TestSendClassifiesStatus(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)

	for status, kind := range map[int]oltsdk.Kind{
		403: oltsdk.KindForbidden,
		404: oltsdk.KindNotFound,
		500: oltsdk.KindServer,
	} {
		err := c.Send(t.Context(), "", oltsdk.Request{Method: http.MethodGet, Path: "/status/" + strconv.Itoa(status)}, nil)
		var apiErr *oltsdk.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, kind, apiErr.Kind)
	}
}

func TestSendNetworkError(t *testing.T) {
	t.Parallel()
	c, srv := newClient(t)
	srv.Close()

	err := c.Send(t.Context(), "", oltsdk.MeCall(), nil)
	var apiErr *oltsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, oltsdk.KindNetwork, apiErr.Kind)
	require.Zero(t, apiErr.StatusCode)
}

func TestSendHonoursCancellation(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := c.Send(ctx, "", oltsdk.MeCall(), nil)
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestRateLimitedRequestsWait(t *testing.T) {
	t.Parallel()
	srv := olttest.NewServer(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := oltsdk.NewSDKClient(srv.APIURL(), logger)
	c.SetRateLimit(20, 1)

	req := oltsdk.Request{Method: http.MethodGet, Path: "/status/200"}
	start := time.Now()
	require.NoError(t, c.Send(t.Context(), "", req, nil))
	require.NoError(t, c.Send(t.Context(), "", req, nil))

	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Contains(t, buf.String(), "request rate limited, waiting")
}
