package jwttoken

import (
	id "keyregistry/pkg/domain"
)

// CallerAdapter exposes JWTService as the auth middleware's CallerValidator.
type CallerAdapter struct {
	service *JWTService
}

func NewCallerAdapter(service *JWTService) *CallerAdapter {
	return &CallerAdapter{service: service}
}

func (a *CallerAdapter) ValidateCaller(tokenString string) (id.Address, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return id.Address{}, err
	}
	return claims.Caller()
}
