package oltsdk

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// TOTPCode derives the current one-time code from a base32 secret so an
// unattended console can satisfy a second factor at login.
func TOTPCode(secret string, at time.Time) (string, error) {
	secret = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	if secret == "" {
		return "", fmt.Errorf("totp secret is empty")
	}

	code, err := totp.GenerateCode(secret, at)
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return code, nil
}
