package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	claimsContextKey    = "auth_claims"
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// ErrInvalidToken reports a bearer token that failed validation.
var ErrInvalidToken = errors.New("invalid bearer token")

// Claims is the bearer token payload. Subject carries the user key.
type Claims struct {
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// UserKey returns the token subject.
func (claims *Claims) UserKey() string {
	return claims.Subject
}

// HasRole reports whether the token grants the role.
func (claims *Claims) HasRole(role string) bool {
	for _, granted := range claims.Roles {
		if strings.EqualFold(granted, role) {
			return true
		}
	}
	return false
}

// Actor names the caller on audit fields.
func (claims *Claims) Actor() string {
	if claims.Email != "" {
		return claims.Email
	}
	return claims.Subject
}

// TokenParser validates a raw bearer token and returns its claims.
type TokenParser func(rawToken string) (*Claims, error)

// NewTokenParser accepts HS256 tokens from issuer that carry an expiry and a
// subject. The gRPC surface shares it with the HTTP middleware.
func NewTokenParser(signingKey []byte, issuer string) TokenParser {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (interface{}, error) { return signingKey, nil }
	return func(rawToken string) (*Claims, error) {
		claims := &Claims{}
		if _, err := parser.ParseWithClaims(strings.TrimSpace(rawToken), claims, keyFunc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		if strings.TrimSpace(claims.Subject) == "" {
			return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
		}
		return claims, nil
	}
}

func bearerAuth(signingKey []byte, issuer string) gin.HandlerFunc {
	parseToken := NewTokenParser(signingKey, issuer)
	return func(ctx *gin.Context) {
		rawToken, found := strings.CutPrefix(ctx.GetHeader(authorizationHeader), bearerPrefix)
		if !found || strings.TrimSpace(rawToken) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing bearer token"))
			return
		}
		claims, err := parseToken(rawToken)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "invalid bearer token"))
			return
		}
		ctx.Set(claimsContextKey, claims)
		ctx.Next()
	}
}

func getClaims(ctx *gin.Context) *Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*Claims)
	return claims
}
