package server

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Aidin1998/amlscreen/pkg/errors"
)

// Permissions carried in the token's "permissions" claim
const (
	PermScreen = "aml:screen"
	PermRead   = "aml:read"
	PermReview = "aml:review"
	PermAdmin  = "aml:admin"
)

const claimsKey = "amlClaims"

// Claims are the JWT claims the API reads
type Claims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Has reports whether the claims grant perm. aml:admin grants everything.
func (c *Claims) Has(perm string) bool {
	return slices.Contains(c.Permissions, perm) || slices.Contains(c.Permissions, PermAdmin)
}

// Authenticator verifies HS256 bearer tokens
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
}

func NewAuthenticator(secret, issuer, audience string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, audience: audience}
}

// Issue signs a token for subject. Used by operators' tooling and tests.
func (a *Authenticator) Issue(subject string, permissions []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses and validates a token string.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.Unauthenticated.Explain("invalid token").Wrap(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.Unauthenticated.Explain("invalid token claims")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWithError(c, errors.Unauthenticated.Explain("missing authorization header"))
			return
		}
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			abortWithError(c, errors.Unauthenticated.Explain("authorization header must be a bearer token"))
			return
		}

		claims, err := a.Verify(token)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequirePermission admits callers holding any of perms.
func RequirePermission(perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims == nil {
			abortWithError(c, errors.Unauthenticated.Explain("missing credentials"))
			return
		}
		for _, p := range perms {
			if claims.Has(p) {
				c.Next()
				return
			}
		}
		abortWithError(c, errors.Forbidden.Explain("requires one of %s", strings.Join(perms, ", ")))
	}
}

func claimsFrom(c *gin.Context) *Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}

func subject(c *gin.Context) string {
	if claims := claimsFrom(c); claims != nil {
		return claims.Subject
	}
	return ""
}
