package service

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/raakeshmj/postplane/internal/auth"
	apperrors "github.com/raakeshmj/postplane/internal/errors"
	"github.com/raakeshmj/postplane/internal/repository"
)

const maxStringLength = 255

func requireString(v *apperrors.Validation, field, value string, max int) {
	switch {
	case strings.TrimSpace(value) == "":
		v.Add(field, "is required")
	case utf8.RuneCountInString(value) > max:
		v.Add(field, fmt.Sprintf("may not be greater than %d characters", max))
	}
}

func checkEmail(v *apperrors.Validation, email string) {
	requireString(v, "email", email, maxStringLength)
	if email == "" {
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		v.Add("email", "must be a valid email address")
	}
}

func checkPassword(v *apperrors.Validation, password, confirmation string) {
	if utf8.RuneCountInString(password) < auth.MinPasswordLength {
		v.Add("password", fmt.Sprintf("must be at least %d characters", auth.MinPasswordLength))
	}
	if password != confirmation {
		v.Add("password", "confirmation does not match")
	}
}

func checkScopes(v *apperrors.Validation, scopes []string) {
	for _, s := range scopes {
		if !auth.KnownScope(s) {
			v.Add("scopes", fmt.Sprintf("unknown scope %q", s))
		}
	}
}

// storeError translates repository sentinels into domain errors.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, what+" not found", err)
	case errors.Is(err, repository.ErrConflict):
		return apperrors.Wrap(apperrors.CodeConflict, what+" already exists", err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// fieldConflict is a 409 that names the offending field.
func fieldConflict(field, message string, cause error) error {
	e := apperrors.Wrap(apperrors.CodeConflict, "the given data conflicts with an existing record", cause)
	e.Fields = map[string][]string{field: {message}}
	return e
}
