package supabase

import (
	"errors"
	"strings"
)

const emailNotConfirmedMessage = "Your email address has not been confirmed. Please check your inbox " +
	"(and spam folder) for a confirmation link and click it to activate your account."

// FriendlyError turns an auth failure into a message for the user.
// canResend reports whether offering to resend the confirmation email makes
// sense.
func FriendlyError(err error) (msg string, canResend bool) {
	if err == nil {
		return "", false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		if authErr.Code == "email_not_confirmed" || strings.Contains(authErr.Message, "Email not confirmed") {
			return emailNotConfirmedMessage, true
		}
		return authErr.Message, false
	}
	if strings.Contains(err.Error(), "email_not_confirmed") || strings.Contains(err.Error(), "Email not confirmed") {
		return emailNotConfirmedMessage, true
	}
	return err.Error(), false
}
