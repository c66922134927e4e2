package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	httperrors "github.com/jw6ventures/timetable/internal/http/errors"
	"github.com/jw6ventures/timetable/internal/store"
)

// TokenVerifier checks a raw bearer token and returns its subject.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (string, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers issuerURL and verifies ID tokens issued to clientID.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}
	return &oidcVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewStaticVerifier verifies tokens against a fixed key set, without discovery.
func NewStaticVerifier(issuerURL, clientID string, keys oidc.KeySet) TokenVerifier {
	return &oidcVerifier{verifier: oidc.NewVerifier(issuerURL, keys, &oidc.Config{ClientID: clientID})}
}

func (v *oidcVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", err
	}
	if token.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return token.Subject, nil
}

// Service authenticates API requests.
type Service struct {
	verifier TokenVerifier
	users    store.UserRepository
}

func NewService(verifier TokenVerifier, users store.UserRepository) *Service {
	return &Service{verifier: verifier, users: users}
}

// RequireBearer resolves the bearer token to a known user and stores it in
// the request context.
func (s *Service) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="timetable"`)
			httperrors.Write(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
			return
		}

		ctx := r.Context()
		subject, err := s.verifier.Verify(ctx, raw)
		if err != nil {
			httperrors.LogWarn(r, "token rejected", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="timetable", error="invalid_token"`)
			httperrors.Write(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
			return
		}

		user, err := s.users.GetBySubject(ctx, subject)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				httperrors.Write(w, http.StatusForbidden, "UNKNOWN_USER", "no account for this identity")
				return
			}
			httperrors.InternalError(w, r, err, "failed to load user")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
