package auth

import (
	"fmt"

	"community-chat/internal/config"
	"community-chat/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Service validates tokens issued by the external identity provider and
// turns them into read-only user snapshots. Login, registration and password
// storage happen outside the chat core.
type Service struct {
	cfg *config.Config
}

func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

func (s *Service) ValidateToken(tokenString string) (*jwt.MapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.JWT.Secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// UserFromToken builds the connection's user snapshot from token claims.
func (s *Service) UserFromToken(tokenString string) (*models.User, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	userIDFloat, ok := (*claims)["user_id"].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid user ID in token")
	}

	username, _ := (*claims)["username"].(string)
	avatar, _ := (*claims)["avatar"].(string)

	role := models.RoleMember
	if r, ok := (*claims)["role"].(string); ok && models.Role(r) == models.RoleAdmin {
		role = models.RoleAdmin
	}

	return &models.User{
		ID:       int64(userIDFloat),
		Username: username,
		Avatar:   avatar,
		Role:     role,
	}, nil
}
