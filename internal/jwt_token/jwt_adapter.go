package jwttoken

import (
	authmw "organlink/pkg/platform/middleware/auth"
)

// JWTServiceAdapter lets the auth middleware validate tokens without
// depending on the jwt library.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(token string) (*authmw.JWTClaims, error) {
	c, err := a.service.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	out := authmw.JWTClaims{UserID: c.Subject, Role: c.Role, JTI: c.ID}
	return &out, nil
}
