package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Avanquish/DoughNation-sub002/internal/logger"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrMissingSubject  = errors.New("token has no subject")
	ErrUnsupportedRole = models.ErrUnsupportedRole

	log = logger.New("auth")
)

// ContextKey is where the relay's middleware stores the verified identity.
const ContextKey = "identity"

// subjectClaims are tried in order; older tokens carry the id under user_id.
var subjectClaims = []string{"sub", "id", "user_id"}

// DecodeIdentity reads the identity out of a session token without contacting
// the server and without checking the signature. The server re-checks the
// token on every connection, so the client only needs to know who it is.
func DecodeIdentity(tokenString string) (models.Identity, error) {
	if tokenString == "" {
		return models.Identity{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		log.Warn("Could not decode session token: %v", err)
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return identityFromClaims(claims)
}

// VerifyIdentity validates an HS256 token with key and returns its identity.
func VerifyIdentity(tokenString string, key []byte) (models.Identity, error) {
	claims := jwt.MapClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Error("Unexpected signing method: %v", token.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		log.Debug("Token validation error: %v", err)
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}

	return identityFromClaims(claims)
}

// GenerateToken issues an HS256 session token for identity.
func GenerateToken(identity models.Identity, key []byte, ttl time.Duration) (string, time.Time, error) {
	if identity.ID.IsZero() {
		return "", time.Time{}, ErrMissingSubject
	}
	if _, err := models.ParseRole(string(identity.Role)); err != nil {
		return "", time.Time{}, err
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := jwt.MapClaims{
		"sub":   identity.ID.String(),
		"role":  string(identity.Role),
		"name":  identity.Name,
		"email": identity.Email,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	return signed, expiresAt, err
}

func identityFromClaims(claims jwt.MapClaims) (models.Identity, error) {
	var (
		id  models.ID
		err error
	)
	for _, name := range subjectClaims {
		v, ok := claims[name]
		if !ok {
			continue
		}
		if id, err = models.ParseID(v); err == nil && !id.IsZero() {
			break
		}
	}
	if id.IsZero() {
		return models.Identity{}, ErrMissingSubject
	}

	roleClaim, _ := claims["role"].(string)
	role, err := models.ParseRole(roleClaim)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %q", ErrUnsupportedRole, roleClaim)
	}

	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)

	return models.Identity{ID: id, Role: role, Name: name, Email: email}, nil
}
