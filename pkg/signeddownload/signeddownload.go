package signeddownload

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "screenrec"

type Client struct {
	jwtSecret []byte
}

type DownloadTokenClaims struct {
	FilePath string `json:"file"`
	jwt.RegisteredClaims
}

func NewClient(secret []byte) *Client {
	return &Client{
		jwtSecret: secret,
	}
}

// GenerateDownloadToken signs a token granting access to filePath until exp.
func (s *Client) GenerateDownloadToken(filePath string, exp time.Time) (string, error) {
	claims := DownloadTokenClaims{
		FilePath: filePath,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "download",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Client) ParseDownloadToken(tokenString string) (*DownloadTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DownloadTokenClaims{}, func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*DownloadTokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
