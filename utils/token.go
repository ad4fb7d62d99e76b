package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/3moredev/climasys/cache"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ScopeClaims identifies the doctor and clinic a bearer token acts for.
type ScopeClaims struct {
	DoctorID string `json:"doctor_id"`
	ClinicID string `json:"clinic_id"`
	jwt.RegisteredClaims
}

// JwtTokenGenerator issues and verifies visit-entry tokens. Revoked token ids
// are kept in Redis until the token would have expired anyway.
type JwtTokenGenerator struct {
	cache     *cache.Cache
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewJwtTokenGenerator creates a JwtTokenGenerator.
func NewJwtTokenGenerator(redisClient *redis.Client, secretKey string, ttl time.Duration) *JwtTokenGenerator {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &JwtTokenGenerator{
		cache:     cache.NewCache(redisClient, "jwt:"),
		secretKey: []byte(secretKey),
		ttl:       ttl,
		now:       time.Now,
	}
}

// GenerateJWT signs a token scoped to doctorID and clinicID.
func (g *JwtTokenGenerator) GenerateJWT(doctorID, clinicID string) (string, error) {
	if doctorID == "" || clinicID == "" {
		return "", errors.New("doctor and clinic are required")
	}
	now := g.now()
	claims := ScopeClaims{
		DoctorID: doctorID,
		ClinicID: clinicID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   doctorID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secretKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// VerifyJWT parses the token, checks its signature and that it was not revoked.
func (g *JwtTokenGenerator) VerifyJWT(ctx context.Context, tokenString string) (*ScopeClaims, error) {
	var claims ScopeClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return g.secretKey, nil
	}, jwt.WithTimeFunc(g.now))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse token")
	}
	if claims.DoctorID == "" || claims.ClinicID == "" {
		return nil, errors.New("token carries no doctor or clinic")
	}
	if claims.ID != "" {
		revoked, err := g.cache.Exists(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, errors.New("token revoked")
		}
	}
	return &claims, nil
}

// InvalidateToken revokes the token until its own expiry.
func (g *JwtTokenGenerator) InvalidateToken(ctx context.Context, claims *ScopeClaims) error {
	if claims == nil || claims.ID == "" {
		return errors.New("token has no identifier")
	}
	ttl := g.ttl
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(g.now())
	}
	if ttl <= 0 {
		return nil
	}
	return g.cache.Set(ctx, claims.ID, claims.DoctorID, ttl)
}
