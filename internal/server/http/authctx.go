package httpserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/appshelf/internal/model"
)

type ctxKey string

const callerKey ctxKey = "appshelf.caller"

// WithCaller stores the authenticated caller in context.
func WithCaller(ctx context.Context, c model.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromCtx fetches the authenticated caller from context.
func CallerFromCtx(ctx context.Context) (model.Caller, bool) {
	c, ok := ctx.Value(callerKey).(model.Caller)
	return c, ok
}

// Claims are the access-token claims: subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// parseCaller verifies an HS256 token and returns its subject and role.
func parseCaller(tok string, signKey []byte) (model.Caller, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return signKey, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return model.Caller{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return model.Caller{}, errors.New("empty subject")
	}
	return model.Caller{ID: claims.Subject, Role: claims.Role}, nil
}

// bearerToken extracts the token from an "Authorization: Bearer <jwt>" header value.
func bearerToken(header string) (string, error) {
	v := strings.TrimSpace(header)
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, nil
		}
	}
	return "", errors.New("no bearer token")
}
