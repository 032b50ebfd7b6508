package auth

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identifies an operator acting on one business.
type Claims struct {
	BusinessID string `json:"business_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// NewClaims builds claims valid for ttl starting now.
func NewClaims(subject, businessID, role string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		BusinessID: businessID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	return parse(token, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.SigningMethodHS256.Alg())
}

// KeyResolver returns the RSA key for a kid.
type KeyResolver interface {
	Get(keyID string) (*rsa.PublicKey, error)
}

// Verifier accepts HS256 tokens signed with the shared secret and, when keys is set,
// RS256 tokens whose kid resolves through it.
type Verifier struct {
	secret string
	keys   KeyResolver
}

func NewVerifier(secret string, keys KeyResolver) *Verifier {
	return &Verifier{secret: secret, keys: keys}
}

func (v *Verifier) Verify(token string) (*Claims, error) {
	methods := []string{jwt.SigningMethodHS256.Alg()}
	if v.keys != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	return parse(token, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if v.secret == "" {
				return nil, ErrInvalidToken
			}
			return []byte(v.secret), nil
		case *jwt.SigningMethodRSA:
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, ErrInvalidToken
			}
			return v.keys.Get(kid)
		default:
			return nil, ErrInvalidToken
		}
	}, methods...)
}

func VerifyRS256(token string, pubKey *rsa.PublicKey) (*Claims, error) {
	return parse(token, func(t *jwt.Token) (any, error) {
		return pubKey, nil
	}, jwt.SigningMethodRS256.Alg())
}

func parse(token string, keyFunc jwt.Keyfunc, methods ...string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, keyFunc, jwt.WithValidMethods(methods), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.BusinessID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
