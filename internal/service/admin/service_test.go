package admin_test

import (
	"errors"
	"testing"

	"github.com/Kmccabe/bTree-sub000/internal/config"
	"github.com/Kmccabe/bTree-sub000/internal/service/admin"
	pkgAuth "github.com/Kmccabe/bTree-sub000/pkg/auth"
	appErr "github.com/Kmccabe/bTree-sub000/pkg/errors"
)

func newService(t *testing.T) *admin.Service {
	t.Helper()
	config.GlobalConfig = &config.Config{
		JWT: config.JWTConfig{Secret: "test-secret", Expire: 1},
	}
	return admin.NewService(config.AdminConfig{
		Username: "researcher",
		Password: "correct-horse",
	})
}

func TestLoginIssuesAdminToken(t *testing.T) {
	svc := newService(t)

	resp, err := svc.Login("researcher", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Username != "researcher" {
		t.Fatalf("unexpected username %q", resp.Username)
	}

	claims, err := pkgAuth.ParseAdminToken(resp.Token)
	if err != nil {
		t.Fatalf("issued token did not parse: %v", err)
	}
	if claims.Subject != "researcher" || claims.Scope != pkgAuth.ScopeAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := newService(t)

	if _, err := svc.Login("researcher", "wrong"); !errors.Is(err, appErr.ErrInvalidAdminPassword) {
		t.Fatalf("expected ErrInvalidAdminPassword, got %v", err)
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	svc := newService(t)

	if _, err := svc.Login("intruder", "correct-horse"); !errors.Is(err, appErr.ErrAdminNotFound) {
		t.Fatalf("expected ErrAdminNotFound, got %v", err)
	}
}

func TestLoginDisabledWithoutCredentials(t *testing.T) {
	config.GlobalConfig = &config.Config{JWT: config.JWTConfig{Secret: "test-secret", Expire: 1}}
	svc := admin.NewService(config.AdminConfig{})

	if _, err := svc.Login("anyone", "anything"); !errors.Is(err, appErr.ErrAdminNotFound) {
		t.Fatalf("expected ErrAdminNotFound, got %v", err)
	}
}
