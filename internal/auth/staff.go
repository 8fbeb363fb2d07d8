package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type staffUserKey contextKey

const staffUserCtxKey staffUserKey = "staff_user"

// StaffClaims is the minimal session payload for the staff panel. The
// session store itself is an abstract collaborator (spec §9); this is
// the stand-in SPEC_FULL.md documents: a signed JWT instead of a
// server-side session table, sufficient to exercise staff-auth call
// sites without inventing a second persistence layer.
type StaffClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// StaffSessions issues and validates staff bearer tokens.
type StaffSessions struct {
	secret []byte
	ttl    time.Duration
}

func NewStaffSessions(secret []byte) *StaffSessions {
	return &StaffSessions{secret: secret, ttl: 12 * time.Hour}
}

func (s *StaffSessions) Issue(username string) (string, error) {
	claims := StaffClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign staff session: %w", err)
	}
	return signed, nil
}

func (s *StaffSessions) Parse(tokenString string) (StaffClaims, error) {
	var claims StaffClaims
	tok, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return StaffClaims{}, fmt.Errorf("auth: parse staff session: %w", err)
	}
	if !tok.Valid {
		return StaffClaims{}, errors.New("auth: invalid staff session")
	}
	return claims, nil
}

// Middleware validates the Authorization: Bearer <token> header and
// stores the staff username in the request context.
func (s *StaffSessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || tokenString == "" {
			http.Error(w, "missing staff session", http.StatusUnauthorized)
			return
		}
		claims, err := s.Parse(tokenString)
		if err != nil {
			http.Error(w, "invalid staff session", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), staffUserCtxKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// StaffUserFromContext returns the authenticated staff username.
func StaffUserFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(staffUserCtxKey).(string)
	return v, ok
}
