package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"

	"wainbox/internal/auth"
	"wainbox/internal/model"
)

const passwordCost = 10

type Config interface {
	OperatorPasswordHash() string
	TokenTTL() time.Duration
}

type Signer interface {
	Sign(claims jwt.Claims) (string, error)
}

type service struct {
	config Config
	signer Signer
	now    func() time.Time
}

func New(config Config, signer Signer) *service {
	return &service{config: config, signer: signer, now: time.Now}
}

// Create exchanges the operator password for a signed bearer token.
func (s *service) Create(params *model.CreateSessionParams) (*model.Session, error) {
	hash := s.config.OperatorPasswordHash()
	if hash == "" {
		return nil, model.ErrorUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(params.Password)); err != nil {
		return nil, model.ErrorInvalidPassword
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.config.TokenTTL())
	token, err := s.signer.Sign(jwt.StandardClaims{
		Subject:   auth.OperatorSubject,
		IssuedAt:  issuedAt.Unix(),
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	return &model.Session{Token: token, ExpiresAt: expiresAt.Unix()}, nil
}

// HashPassword produces a value for OPERATOR_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	passwordBytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("generating encoded password: %w", err)
	}
	return string(passwordBytes), nil
}
