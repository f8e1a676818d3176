package oltsdk

import (
	"context"
	"errors"
	"net/http"
)

// ErrEmptyToken is returned when a token response carries no access token.
var ErrEmptyToken = errors.New("oltsdk: server returned an empty access token")

// Login exchanges credentials for a token pair.
func (c *SDKClient) Login(ctx context.Context, creds Credentials) (*TokenResponse, error) {
	var tokens TokenResponse
	err := c.Send(ctx, "", Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   creds,
	}, &tokens)
	if err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, ErrEmptyToken
	}
	return &tokens, nil
}

// Refresh exchanges a refresh token for a new pair. The token travels both
// in the body and as bearer; backends differ on which they read. When the
// server echoes no refresh token the caller keeps its current one.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var tokens TokenResponse
	err := c.Send(ctx, refreshToken, Request{
		Method: http.MethodPost,
		Path:   "/auth/refresh",
		Body:   map[string]string{"refresh_token": refreshToken},
	}, &tokens)
	if err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, ErrEmptyToken
	}
	return &tokens, nil
}

// Me fetches the profile of the token's owner.
func (c *SDKClient) Me(ctx context.Context, accessToken string) (*User, error) {
	var user User
	err := c.Send(ctx, accessToken, Request{
		Method: http.MethodGet,
		Path:   "/auth/me",
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ChangePassword changes the caller's password.
func (c *SDKClient) ChangePassword(ctx context.Context, accessToken string, req ChangePasswordRequest) error {
	return c.Send(ctx, accessToken, ChangePasswordCall(req), nil)
}

// UpdateProfile updates the caller's profile and returns the stored result.
func (c *SDKClient) UpdateProfile(ctx context.Context, accessToken string, upd ProfileUpdate) (*User, error) {
	var user User
	if err := c.Send(ctx, accessToken, UpdateProfileCall(upd), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ChangePasswordCall describes POST /auth/change-password.
func ChangePasswordCall(req ChangePasswordRequest) Request {
	return Request{Method: http.MethodPost, Path: "/auth/change-password", Body: req}
}

// UpdateProfileCall describes PUT /auth/profile.
func UpdateProfileCall(upd ProfileUpdate) Request {
	return Request{Method: http.MethodPut, Path: "/auth/profile", Body: upd}
}

// MeCall describes GET /auth/me.
func MeCall() Request {
	return Request{Method: http.MethodGet, Path: "/auth/me"}
}
