package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"intellect/internal/integrations/supabase"
)

type authClient interface {
	SignIn(ctx context.Context, email, password string) (supabase.Session, error)
	SignUp(ctx context.Context, email, password string) (supabase.SignUpResult, error)
	ResendConfirmation(ctx context.Context, email string) error
	SignOut(ctx context.Context) error
}

// prompter reads answers from the terminal. readSecret must not echo.
type prompter struct {
	out        io.Writer
	readLine   func() (string, bool)
	readSecret func() (string, error)
}

func (p prompter) ask(question string) (string, bool) {
	fmt.Fprint(p.out, question)
	line, ok := p.readLine()
	return strings.TrimSpace(line), ok
}

func (p prompter) secret(question string) (string, error) {
	fmt.Fprint(p.out, question)
	s, err := p.readSecret()
	fmt.Fprintln(p.out)
	return s, err
}

func (p prompter) confirm(question string) bool {
	answer, ok := p.ask(question + " [y/N] ")
	return ok && strings.EqualFold(answer, "y")
}

const maxLoginAttempts = 3

var errLoginAborted = errors.New("login aborted")

// login signs the user in, or registers them first. An empty email skips
// authentication; answers are then not saved to the account history.
func login(ctx context.Context, auth authClient, p prompter) (signedIn bool, err error) {
	for attempt := 0; attempt < maxLoginAttempts; attempt++ {
		email, ok := p.ask("Email (leave empty to continue without an account): ")
		if !ok {
			return false, errLoginAborted
		}
		if email == "" {
			return false, nil
		}
		password, err := p.secret("Password: ")
		if err != nil {
			return false, fmt.Errorf("read password: %w", err)
		}

		_, err = auth.SignIn(ctx, email, password)
		if err == nil {
			fmt.Fprintf(p.out, "Signed in as %s.\n", email)
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		msg, canResend := supabase.FriendlyError(err)
		fmt.Fprintln(p.out, msg)
		if canResend {
			offerResend(ctx, auth, p, email)
			continue
		}
		if p.confirm("Create a new account with this email?") {
			register(ctx, auth, p, email, password)
		}
	}
	fmt.Fprintln(p.out, "Continuing without an account.")
	return false, nil
}

func register(ctx context.Context, auth authClient, p prompter, email, password string) {
	res, err := auth.SignUp(ctx, email, password)
	if err != nil {
		msg, _ := supabase.FriendlyError(err)
		fmt.Fprintln(p.out, msg)
		return
	}
	if res.ConfirmationRequired {
		fmt.Fprintf(p.out, "Account created. Check %s for a confirmation link, then sign in.\n", email)
		return
	}
	fmt.Fprintln(p.out, "Account created. Please sign in.")
}

func offerResend(ctx context.Context, auth authClient, p prompter, email string) {
	if !p.confirm("Resend the confirmation email?") {
		return
	}
	if err := auth.ResendConfirmation(ctx, email); err != nil {
		msg, _ := supabase.FriendlyError(err)
		fmt.Fprintln(p.out, msg)
		return
	}
	fmt.Fprintf(p.out, "Confirmation email sent to %s.\n", email)
}
