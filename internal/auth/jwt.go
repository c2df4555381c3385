package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier issues and checks HS256 bearer tokens carrying sub and role.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	if !p.Authenticated() || !p.Role.Valid() {
		return "", fmt.Errorf("issue token: %w", ErrInvalidToken)
	}
	now := v.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(v.secret)
}

func (v *Verifier) Parse(raw string) (Principal, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || tok == nil || !tok.Valid {
		return Principal{}, ErrInvalidToken
	}
	if c.Subject == "" || !c.Role.Valid() {
		return Principal{}, ErrInvalidToken
	}
	return Principal{ID: c.Subject, Role: c.Role}, nil
}

// Middleware attaches the bearer token's principal to the request context.
// Requests without a token pass through anonymous; malformed or invalid
// tokens are rejected with 401. EventSource clients cannot set headers, so
// an access_token query parameter is accepted too.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if authz == "" {
				if tok := r.URL.Query().Get("access_token"); tok != "" {
					authz = "Bearer " + tok
				}
			}
			if authz == "" {
				next.ServeHTTP(w, r)
				return
			}
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w)
				return
			}
			p, err := v.Parse(strings.TrimSpace(parts[1]))
			if err != nil {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}
