package data

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt"
)

// TokenInfo is the claim view of a token value. The client never verifies
// tokens, it only decodes them for display; the backend is the authority.
type TokenInfo struct {
	Id      string
	UserId  string
	Quota   float64
	Expires time.Time
}

// ParseTokenInfo decodes a token value without verifying its signature.
func ParseTokenInfo(value string) (*TokenInfo, error) {
	claims := jwt.MapClaims{}
	parser := &jwt.Parser{}
	_, _, err := parser.ParseUnverified(value, claims)
	if err != nil {
		return nil, err
	}

	info := &TokenInfo{}
	if id, ok := claims["id"].(string); ok {
		info.Id = id
	}
	if userid, ok := claims["userid"].(string); ok {
		info.UserId = userid
	}
	if quota, ok := claims["quota"].(float64); ok {
		info.Quota = quota
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, errors.New("token has no exp claim")
	}
	info.Expires = time.Unix(int64(exp), 0)
	return info, nil
}
