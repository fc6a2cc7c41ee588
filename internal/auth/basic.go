package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/harrylevesque/controlx/internal/metrics"
	"github.com/harrylevesque/controlx/internal/models"
)

var (
	// ErrInvalidCredentials is returned when the provided credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by a UserSource with no such user.
	ErrUserNotFound = errors.New("user not found")
)

// UserSource finds operator accounts by username.
type UserSource interface {
	Get(ctx context.Context, username string) (*models.User, error)
}

// UserSourceFunc adapts a function to UserSource.
type UserSourceFunc func(ctx context.Context, username string) (*models.User, error)

func (f UserSourceFunc) Get(ctx context.Context, username string) (*models.User, error) {
	return f(ctx, username)
}

// Authenticator verifies HTTP Basic credentials against a UserSource.
type Authenticator struct {
	users    UserSource
	realm    string
	notFound func(error) bool
}

// NewAuthenticator builds an Authenticator. isNotFound tells it which
// UserSource errors mean "no such user" rather than a lookup failure; nil
// matches ErrUserNotFound only.
func NewAuthenticator(users UserSource, realm string, isNotFound func(error) bool) *Authenticator {
	if realm == "" {
		realm = "Login Required"
	}
	if isNotFound == nil {
		isNotFound = func(err error) bool { return errors.Is(err, ErrUserNotFound) }
	}
	return &Authenticator{users: users, realm: realm, notFound: isNotFound}
}

// Verify returns the user when username and password match a stored
// account, ErrInvalidCredentials when they don't, or the lookup error.
func (a *Authenticator) Verify(ctx context.Context, username, password string) (*models.User, error) {
	user, err := a.users.Get(ctx, username)
	if err != nil {
		if a.notFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("verify %q: %w", username, err)
	}
	if user == nil || !VerifyPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

type ctxKey struct{}

// UserFrom returns the authenticated user stored by Middleware.
func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*models.User)
	return u, ok
}

// Middleware rejects requests without valid Basic credentials with a 401
// challenge. Authenticated requests carry the user in their context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context())

		username, password, ok := r.BasicAuth()
		if !ok {
			a.challenge(w)
			return
		}
		user, err := a.Verify(r.Context(), username, password)
		if errors.Is(err, ErrInvalidCredentials) {
			log.Warn().Str("username", username).Msg("authentication failed")
			a.challenge(w)
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("authentication lookup failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, user)
		l := log.With().Str("user", user.Username).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(ctx)))
	})
}

func (a *Authenticator) challenge(w http.ResponseWriter) {
	metrics.Get().AuthFailures.Inc()
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", a.realm))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte("Authentication required."))
}
