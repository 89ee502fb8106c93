package serverutils

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenExpiry = 7 * 24 * time.Hour

// UserIdentity is the authenticated principal carried by a bearer token.
type UserIdentity struct {
	Id       uuid.UUID
	Username string
}

func jwtSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "fallback-secret-key"
	}
	return []byte(secret)
}

// GenerateToken signs a bearer token embedding user id and username,
// valid for 7 days.
func GenerateToken(userId uuid.UUID, username string) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  userId.String(),
		"username": username,
		"exp":      time.Now().Add(tokenExpiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

// ParseToken verifies a bearer token. Expired, tampered, or malformed tokens
// return an error; verification never panics.
func ParseToken(tokenStr string) (*UserIdentity, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}

	idStr, _ := claims["user_id"].(string)
	userId, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid user id claim")
	}
	username, _ := claims["username"].(string)

	return &UserIdentity{Id: userId, Username: username}, nil
}
