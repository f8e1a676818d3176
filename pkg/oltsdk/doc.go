/*
Package oltsdk is a thin client for the OLT Manager dashboard API.

# Overview

SDKClient speaks the /auth/* endpoints of the OLT Manager backend and exposes a
generic Send for any other authorised call. It holds no session state: tokens
are passed in by the caller, which is normally a session.Manager.

	client := oltsdk.NewSDKClient("https://olt.example.net/api/v1", logger)

	tokens, err := client.Login(ctx, oltsdk.Credentials{Username: "noc", Password: pw})
	user, err := client.Me(ctx, tokens.AccessToken)

# Errors

Every non-2xx response and every transport failure becomes an *APIError whose
Kind classifies it (network, unauthorized, forbidden, not_found, validation,
server, client). UserMessage renders the operator-facing text:

	var apiErr *oltsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Kind == oltsdk.KindValidation {
		for _, f := range apiErr.Fields {
			fmt.Println(f.Field, f.Message)
		}
	}

# Rate limiting

The client carries a token-bucket limiter (golang.org/x/time/rate). Each request
waits for a token before it is sent, so a reconnect storm or a tight refresh
loop cannot flood the backend.

# Thread Safety

SDKClient is safe for concurrent use once constructed.
*/
package oltsdk
