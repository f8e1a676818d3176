package oltsdk

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindFor(t *testing.T) {
	t.Parallel()

	cases := map[int]Kind{
		http.StatusUnauthorized:        KindUnauthorized,
		http.StatusForbidden:           KindForbidden,
		http.StatusNotFound:            KindNotFound,
		http.StatusUnprocessableEntity: KindValidation,
		http.StatusInternalServerError: KindServer,
		http.StatusBadGateway:          KindServer,
		http.StatusBadRequest:          KindClient,
		http.StatusConflict:            KindClient,
	}
	for status, want := range cases {
		require.Equal(t, want, KindFor(status), "status %d", status)
	}
}

func TestParseErrorResponse(t *testing.T) {
	t.Parallel()

	t.Run("string detail", func(t *testing.T) {
		e := parseErrorResponse(401, []byte(`{"detail":"Invalid username or password"}`))
		require.Equal(t, KindUnauthorized, e.Kind)
		require.Equal(t, "Invalid username or password", e.Message)
		require.Empty(t, e.Fields)
	})

	t.Run("validation detail list", func(t *testing.T) {
		body := `{"detail":[{"loc":["body","username"],"msg":"field required"},{"loc":["body","items",0],"msg":"bad item"}]}`
		e := parseErrorResponse(422, []byte(body))
		require.Equal(t, KindValidation, e.Kind)
		require.Equal(t, []FieldError{
			{Field: "username", Message: "field required"},
			{Field: "items.0", Message: "bad item"},
		}, e.Fields)
		require.Equal(t, "Validation error: username: field required; items.0: bad item", e.UserMessage())
	})

	t.Run("wrapped message with details", func(t *testing.T) {
		body := `{"error":true,"message":"Validation error","details":[{"loc":["body","new_password"],"msg":"too short"}],"status_code":422}`
		e := parseErrorResponse(422, []byte(body))
		require.Equal(t, "Validation error", e.Message)
		require.Len(t, e.Fields, 1)
		require.Equal(t, "new_password", e.Fields[0].Field)
	})

	t.Run("non json body", func(t *testing.T) {
		e := parseErrorResponse(502, []byte("<html>bad gateway</html>"))
		require.Equal(t, KindServer, e.Kind)
		require.Equal(t, "<html>bad gateway</html>", e.Message)
		require.Equal(t, "Server error. Please try again later.", e.UserMessage())
	})
}

func TestAPIErrorUserMessages(t *testing.T) {
	t.Parallel()

	network := &APIError{Kind: KindNetwork, Err: errors.New("connection refused")}
	require.Contains(t, network.UserMessage(), "Network error")
	require.Contains(t, network.Error(), "connection refused")
	require.ErrorIs(t, network, network.Err)

	client := &APIError{StatusCode: 400, Kind: KindClient, Message: "Current password is incorrect"}
	require.Equal(t, "Current password is incorrect", client.UserMessage())
	require.Equal(t, "HTTP 400: Current password is incorrect", client.Error())

	bare := &APIError{StatusCode: 418, Kind: KindClient}
	require.Equal(t, "An unexpected error occurred", bare.UserMessage())
	require.Equal(t, "HTTP 418: I'm a teapot", bare.Error())
}

func TestIsUnauthorized(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("fetch profile: %w", &APIError{StatusCode: 401, Kind: KindUnauthorized})
	require.True(t, IsUnauthorized(wrapped))
	require.False(t, IsUnauthorized(&APIError{StatusCode: 403, Kind: KindForbidden}))
	require.False(t, IsUnauthorized(errors.New("plain")))
}
