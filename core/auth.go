package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// User represents an authenticated principal returned to handlers.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	// ErrInvalidCredentials is returned when username/password is wrong.
	// Unknown user and wrong password share this error on purpose.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameTaken is returned by Register when the username already exists.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrUnauthenticated is returned when a request carries no valid session.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// User-facing messages. Handlers render these verbatim.
const (
	MsgRegistered         = "Registration successful! Please log in."
	MsgUsernameTaken      = "Username already exists."
	MsgInvalidCredentials = "Invalid username or password."
	MsgLoginRequired      = "Please log in to access this page."
	MsgLoggedOut          = "You have been logged out."
	MsgTooManyAttempts    = "Too many attempts. Please try again later."
	MsgGenericFailure     = "Something went wrong. Please try again."
)

const (
	maxUsernameLength = 64
	maxPasswordBytes  = 72 // bcrypt input limit, applied to every scheme
)

// ValidationError reports malformed input to register or login.
// Message is safe to show to the user.
// Err, when set, is the sentinel the error also matches with errors.Is.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// loginInputError rejects login input that cannot match any account. It still
// matches ErrInvalidCredentials so callers show the same message either way.
func loginInputError(field string) error {
	return &ValidationError{Field: field, Message: MsgInvalidCredentials, Err: ErrInvalidCredentials}
}

// AuthService defines authentication behaviour.
type AuthService interface {
	Register(ctx context.Context, username, password string) (User, error)
	Authenticate(ctx context.Context, username, password string) (User, error)
	// Login verifies credentials and establishes a new session. previousToken,
	// when non-empty, is invalidated so that a login always rotates the session.
	Login(ctx context.Context, username, password, previousToken string) (*Session, string, error)
	Logout(ctx context.Context, token string) error
}

// normalizeUsername trims surrounding whitespace. Comparison after that is exact.
func normalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

func validateUsername(username string) error {
	if username == "" {
		return &ValidationError{Field: "username", Message: "Username is required."}
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be at most 64 characters."}
	}
	for _, r := range username {
		if unicode.IsControl(r) {
			return &ValidationError{Field: "username", Message: "Username contains invalid characters."}
		}
	}
	return nil
}

func validatePassword(password string, minLength int) error {
	if password == "" {
		return &ValidationError{Field: "password", Message: "Password is required."}
	}
	if minLength > 0 && len(password) < minLength {
		return &ValidationError{Field: "password", Message: fmt.Sprintf("Password must be at least %d characters.", minLength)}
	}
	if len(password) > maxPasswordBytes {
		return &ValidationError{Field: "password", Message: "Password is too long."}
	}
	return nil
}
