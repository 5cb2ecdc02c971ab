// Package utils issues and verifies the credentials used by the HTTP API
// and the seat channel.
package utils

import (
    "crypto/rand"
    "crypto/sha256"
    "encoding/hex"
    "errors"
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by ParseAccessToken for any token that is
// malformed, expired, signed with another key or missing its subject.
var ErrInvalidToken = errors.New("invalid token")

// refreshBytes is the entropy of a refresh token; its hex form is twice as long.
const refreshBytes = 48

// AccessToken is a signed HS256 JWT and the instant it stops being accepted.
type AccessToken struct {
    Token string
    Exp   time.Time
}

// RefreshToken is an opaque secret exchanged for a new token pair.  The
// server keeps only HashRefreshRaw(Raw).
type RefreshToken struct {
    Raw string
    Exp time.Time
}

// userClaims is the payload of an access token.  Subject carries the
// decimal user id, which the seat hub uses as the userId of every hold the
// bearer places.
type userClaims struct {
    Name string `json:"name,omitempty"`
    jwt.RegisteredClaims
}

var hs256 = jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})

// NewAccessToken signs a token for userID that expires after ttlMin minutes.
func NewAccessToken(secret string, userID uint64, name string, ttlMin int) (AccessToken, error) {
    issued := time.Now().UTC()
    exp := issued.Add(time.Duration(ttlMin) * time.Minute)
    tok := jwt.NewWithClaims(jwt.SigningMethodHS256, userClaims{
        Name: name,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   strconv.FormatUint(userID, 10),
            IssuedAt:  jwt.NewNumericDate(issued),
            ExpiresAt: jwt.NewNumericDate(exp),
        },
    })
    signed, err := tok.SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw against secret and returns its subject.
func ParseAccessToken(secret, raw string) (string, error) {
    var claims userClaims
    _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
        return []byte(secret), nil
    }, hs256, jwt.WithExpirationRequired())
    if err != nil || claims.Subject == "" {
        return "", ErrInvalidToken
    }
    return claims.Subject, nil
}

// NewRefreshToken draws a random refresh token valid for ttlDays.
func NewRefreshToken(ttlDays int) (RefreshToken, error) {
    secret := make([]byte, refreshBytes)
    if _, err := rand.Read(secret); err != nil {
        return RefreshToken{}, err
    }
    exp := time.Now().UTC().AddDate(0, 0, ttlDays)
    return RefreshToken{Raw: hex.EncodeToString(secret), Exp: exp}, nil
}

// HashRefreshRaw is the lookup key stored for a refresh token.
func HashRefreshRaw(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}
