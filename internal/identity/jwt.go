package identity

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/MadHawkx/Synctelly/internal/domain"

	"github.com/golang-jwt/jwt"
)

// Claims — sub это uid пользователя, email нужен для проверки подписки.
type Claims struct {
	jwt.StandardClaims
	Email string `json:"email,omitempty"`
}

// JWTVerifier проверяет RS256-токены, выпущенные сервисом авторизации.
// Пустые issuer/audience не проверяются.
type JWTVerifier struct {
	public    *rsa.PublicKey
	issuer    string
	audience  string
	clockSkew time.Duration
	now       func() time.Time
}

func NewJWTVerifier(public *rsa.PublicKey, issuer, audience string, clockSkew time.Duration) *JWTVerifier {
	return &JWTVerifier{
		public:    public,
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
		now:       time.Now,
	}
}

func (v *JWTVerifier) Verify(_ context.Context, uid, token string) (domain.Identity, error) {
	claims, err := v.ParseAndValidate(token)
	if err != nil {
		return domain.Identity{}, err
	}
	if claims.Subject == "" || claims.Subject != uid {
		return domain.Identity{}, ErrSubjectMismatch
	}
	return domain.Identity{UID: claims.Subject, Email: claims.Email}, nil
}

func (v *JWTVerifier) ParseAndValidate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	// exp/nbf проверяем сами, с допуском clockSkew
	parser := &jwt.Parser{SkipClaimsValidation: true}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok || t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, ErrInvalidToken
		}
		return v.public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, ErrInvalidIssuer
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, ErrInvalidAudience
	}

	now := v.now()
	if claims.ExpiresAt == 0 {
		return nil, ErrTokenExpired
	}
	exp := time.Unix(claims.ExpiresAt, 0).Add(v.clockSkew)
	if now.After(exp) {
		return nil, ErrTokenExpired
	}
	if claims.NotBefore != 0 {
		nbf := time.Unix(claims.NotBefore, 0).Add(-v.clockSkew)
		if now.Before(nbf) {
			return nil, ErrTokenExpired
		}
	}

	return claims, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, err
	}

	return pub, nil
}
