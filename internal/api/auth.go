package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
)

var errRateLimited = errors.New("rate limited")

func (s *Server) authorizeRead(r *http.Request) error {
	if s.rateLimiter != nil && !s.rateLimiter.Allow(r, "read") {
		s.auditAuth(r, "deny", "rate_limit", "", "read rate limit exceeded")
		return errRateLimited
	}
	if s.auth.JWT.Enabled {
		subject, err := s.validateJWT(r)
		if err != nil {
			s.auditAuth(r, "deny", "jwt", "", err.Error())
			return err
		}
		s.auditAuth(r, "allow", "jwt", subject, "")
		return nil
	}
	token := strings.TrimSpace(s.auth.Read.Token)
	if token == "" {
		s.auditAuth(r, "allow", "none", "", "")
		return nil
	}
	if !matchBearer(r.Header.Get("Authorization"), token) {
		s.auditAuth(r, "deny", "bearer", "", "missing or invalid bearer token")
		return errors.New("missing or invalid bearer token")
	}
	s.auditAuth(r, "allow", "bearer", "static-token", "")
	return nil
}

func (s *Server) validateJWT(r *http.Request) (string, error) {
	raw := strings.TrimSpace(bearerToken(r.Header.Get("Authorization")))
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unsupported jwt signing algorithm: %s", token.Method.Alg())
		}
		secret := strings.TrimSpace(s.auth.JWT.HS256Secret)
		if secret == "" {
			return nil, fmt.Errorf("hs256 secret not configured")
		}
		return []byte(secret), nil
	})
	if err != nil || token == nil || !token.Valid {
		return "", errors.New("invalid jwt token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid jwt claims")
	}
	if !claims.VerifyIssuer(s.auth.JWT.Issuer, s.auth.JWT.Issuer != "") {
		return "", errors.New("invalid jwt issuer")
	}
	if !claims.VerifyAudience(s.auth.JWT.Audience, s.auth.JWT.Audience != "") {
		return "", errors.New("invalid jwt audience")
	}
	subject, _ := claims["sub"].(string)
	return subject, nil
}

func matchBearer(header, token string) bool {
	return bearerToken(header) == token
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}
