package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"shopledger/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:  "owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				ShopID:    "shop-a",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "123456", store)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "owner",
		Password: "owner123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.ShopID != "shop-a" {
		t.Fatalf("expected shop-a in login response, got %q", resp.ShopID)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "owner123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestTokenCarriesShop(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"manager": {
				Username: "manager",
				Password: "manager1",
				Role:     domain.RoleManager,
				ShopID:   "shop-b",
				Active:   true,
			},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Manager ", Password: "manager1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "manager" || actor.Role != domain.RoleManager || actor.ShopID != "shop-b" {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager("another-secret", time.Hour, "123456", nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"staff1": {Username: "staff1", Password: "staff123", Role: domain.RoleStaff, ShopID: "shop-a", Active: false},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "staff1", Password: "staff123"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}

func TestCreateStaffStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:  "owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				ShopID:    "shop-a",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "123456", store)
	user, err := manager.CreateStaff(context.Background(), "shop-a", domain.StaffCreateRequest{
		Username: "counter1",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if user.Username != "counter1" || user.Role != domain.RoleStaff || user.ShopID != "shop-a" {
		t.Fatalf("unexpected staff user %+v", user)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "counter1" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected staff user to be saved")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "counter1",
		Password: "pass1234",
	}); err != nil {
		t.Fatalf("login with new staff failed: %v", err)
	}

	if _, err := manager.CreateStaff(context.Background(), "shop-a", domain.StaffCreateRequest{
		Username: "counter1",
		Password: "pass1234",
	}); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestCreateStaffValidation(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", &userStoreStub{})
	cases := []domain.StaffCreateRequest{
		{Username: "abc", Password: "pass1234"},
		{Username: "two words", Password: "pass1234"},
		{Username: "counter2", Password: "123"},
		{Username: "counter2", Password: "pass1234", Role: domain.RoleOwner},
	}
	for _, req := range cases {
		if _, err := manager.CreateStaff(context.Background(), "shop-a", req); err == nil {
			t.Fatalf("expected %+v to be rejected", req)
		}
	}
}

func TestListStaffIsScopedToShop(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner":  {Username: "owner", Password: "owner123", Role: domain.RoleOwner, ShopID: "shop-a", Active: true},
			"staffa": {Username: "staffa", Password: "staff123", Role: domain.RoleStaff, ShopID: "shop-a", Active: true},
			"staffb": {Username: "staffb", Password: "staff123", Role: domain.RoleStaff, ShopID: "shop-b", Active: true},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store)

	staff := manager.ListStaff(context.Background(), "shop-a")
	if len(staff) != 1 || staff[0].Username != "staffa" {
		t.Fatalf("expected only staffa, got %+v", staff)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "654321", store)

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}

	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}

	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}
