package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bookd-next/internal/constants"

	"github.com/golang-jwt/jwt/v5"
)

// ActorClaims 调用方令牌声明，令牌由外部认证服务签发
type ActorClaims struct {
	Role    string `json:"role"`
	ActorID uint   `json:"actor_id"`
	jwt.RegisteredClaims
}

// Actor 已认证的调用方
type Actor struct {
	Role string
	ID   uint
}

// IsOperator 是否为平台运营
func (a Actor) IsOperator() bool {
	return a.Role == constants.ActorRoleOperator
}

// ValidActorRole 校验角色取值
func ValidActorRole(role string) bool {
	switch role {
	case constants.ActorRoleTrucker, constants.ActorRoleBroker, constants.ActorRoleOperator:
		return true
	}
	return false
}

// IssueActorToken 签发调用方令牌（开发与测试用）
func IssueActorToken(secret, issuer, role string, actorID uint, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth secret is empty")
	}
	if !ValidActorRole(role) {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if role != constants.ActorRoleOperator && actorID == 0 {
		return "", fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := ActorClaims{
		Role:    role,
		ActorID: actorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   fmt.Sprintf("%s:%d", role, actorID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseActorToken 校验签名、有效期与签发方并返回调用方
func ParseActorToken(secret, issuer, tokenString string) (Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if strings.TrimSpace(issuer) != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	claims := &ActorClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Actor{}, err
	}
	if !token.Valid || !ValidActorRole(claims.Role) {
		return Actor{}, errors.New("token invalid")
	}
	if claims.Role != constants.ActorRoleOperator && claims.ActorID == 0 {
		return Actor{}, errors.New("token missing actor id")
	}
	return Actor{Role: claims.Role, ID: claims.ActorID}, nil
}
