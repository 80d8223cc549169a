package jwt

import (
	"errors"
	"github.com/golang-jwt/jwt/v5"
	"os"
	"time"
)

type JWTClaim struct {
	Address string `json:"address"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

func GenerateJWT(address string, email string) (token string, err error) {

	var claims = JWTClaim{
		address,
		email,
		jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}

	resToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	secret := os.Getenv("JWT_SECRET")
	signedToken, err := resToken.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

func ValidateToken(signedToken string) (address string, email string, err error) {
	token, err := jwt.ParseWithClaims(signedToken, &JWTClaim{}, func(t *jwt.Token) (interface{}, error) { return []byte(os.Getenv("JWT_SECRET")), nil })
	if err != nil {
		return "", "", err
	}
	claims, ok := token.Claims.(*JWTClaim)
	if !ok {
		return "", "", errors.New("error parsing claims")
	}
	if claims.Address == "" && claims.Email == "" {
		return "", "", errors.New("malformed data")
	}

	return claims.Address, claims.Email, nil
}
