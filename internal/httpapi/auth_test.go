package httpapi

import (
	"context"
	"testing"
	"time"

	"smartpos/backend/internal/domain"
	"smartpos/backend/internal/store/memory"
)

func TestParseToken_Roundtrip(t *testing.T) {
	auth := NewAuthManager("roundtrip-secret", time.Hour, memory.New())

	token, err := auth.sign("admin", "admin", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	actor, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseToken_Expired(t *testing.T) {
	auth := NewAuthManager("expired-secret", time.Hour, memory.New())

	token, err := auth.sign("cashier", "cashier", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := auth.ParseToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	signer := NewAuthManager("secret-a", time.Hour, memory.New())
	verifier := NewAuthManager("secret-b", time.Hour, memory.New())

	token, err := signer.sign("admin", "admin", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

func TestLogin_InactiveAccount(t *testing.T) {
	repo := memory.New()
	auth := NewAuthManager("inactive-secret", time.Hour, repo)

	hash, err := hashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username:  "ghost",
		Password:  hash,
		Role:      "cashier",
		Active:    false,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	_, err = auth.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "hunter22"})
	if err == nil {
		t.Fatal("expected login to fail for an inactive account")
	}
}

func TestCreateCashier_Validation(t *testing.T) {
	auth := NewAuthManager("cashier-secret", time.Hour, memory.New())

	cases := []struct {
		name string
		req  CashierCreateRequest
	}{
		{"short username", CashierCreateRequest{Username: "ab", Password: "longenough"}},
		{"username with spaces", CashierCreateRequest{Username: "has space", Password: "longenough"}},
		{"short password", CashierCreateRequest{Username: "validname", Password: "abc"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := auth.CreateCashier(context.Background(), tc.req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCreateCashier_ThenLogin(t *testing.T) {
	repo := memory.New()
	auth := NewAuthManager("cashier-login-secret", time.Hour, repo)

	created, err := auth.CreateCashier(context.Background(), CashierCreateRequest{
		Username: "newcashier",
		Password: "s3cretpw",
	})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if created.Role != "cashier" || !created.Active {
		t.Fatalf("unexpected cashier: %+v", created)
	}

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "newcashier", Password: "s3cretpw"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "cashier" || resp.AccessToken == "" {
		t.Fatalf("unexpected login response: %+v", resp)
	}
}
