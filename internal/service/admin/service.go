package admin

import (
	"crypto/subtle"

	"github.com/Kmccabe/bTree-sub000/internal/config"
	pkgAuth "github.com/Kmccabe/bTree-sub000/pkg/auth"
	appErr "github.com/Kmccabe/bTree-sub000/pkg/errors"
	"github.com/Kmccabe/bTree-sub000/pkg/logger"

	"go.uber.org/zap"
)

// Service authenticates the researcher against the config-held admin
// credential pair and issues JWTs for the administrative surface.
type Service struct {
	cfg config.AdminConfig
}

func NewService(cfg config.AdminConfig) *Service {
	return &Service{cfg: cfg}
}

type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (s *Service) Login(username, password string) (*LoginResponse, error) {
	if s.cfg.Username == "" {
		return nil, appErr.ErrAdminNotFound
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) != 1 {
		return nil, appErr.ErrAdminNotFound
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) != 1 {
		return nil, appErr.ErrInvalidAdminPassword
	}

	token, err := pkgAuth.GenerateAdminToken(username)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("admin logged in", zap.String("username", username))
	return &LoginResponse{Token: token, Username: username}, nil
}
