package auth

import (
	"chat-presence/domain"
	"chat-presence/errors"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the data stored inside the identity token.
type CustomClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// JWTAuthenticator resolves HS256 identity tokens issued by the account service.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// GenerateToken creates a signed token for a user. Used by tooling and tests,
// the chat core itself only verifies.
func (a *JWTAuthenticator) GenerateToken(userID, name string, d time.Duration) (string, error) {
	now := a.now()
	claims := &CustomClaims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    a.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// VerifyIdentity checks signature, expiry and issuer. Any failure is an ErrAuthentication.
func (a *JWTAuthenticator) VerifyIdentity(_ context.Context, tokenString string) (domain.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing token", errors.ErrAuthentication)
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{},
		func(token *jwt.Token) (interface{}, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrAuthentication, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrAuthentication, jwt.ErrSignatureInvalid)
	}
	identity := domain.Identity{UserID: domain.UserID(claims.UserID), Name: claims.Name}
	if identity.UserID.IsZero() {
		return domain.Identity{}, fmt.Errorf("%w: token has no user", errors.ErrAuthentication)
	}
	if identity.Name == "" {
		identity.Name = claims.UserID
	}
	return identity, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
