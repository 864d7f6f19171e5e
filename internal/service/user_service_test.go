package service

import (
	"context"
	"testing"

	"backend/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserServiceFixture() (UserService, *memUserRepo, *memAuditRepo) {
	userRepo := newMemUserRepo()
	auditRepo := &memAuditRepo{}
	return NewUserService(userRepo, auditRepo, fakeTxManager{}), userRepo, auditRepo
}

func TestRegister(t *testing.T) {
	svc, _, auditRepo := newUserServiceFixture()

	user, err := svc.Register(context.Background(), RegisterUserRequest{
		Email:    "student@hust.edu.vn",
		FullName: "Nguyen Van A",
		Role:     model.RoleStudent,
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, "student@hust.edu.vn", user.Email)
	assert.Equal(t, model.RoleStudent, user.Role)

	require.Len(t, auditRepo.entries, 1)
	assert.Equal(t, model.ActionRegisterUser, auditRepo.entries[0].Action)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newUserServiceFixture()

	req := RegisterUserRequest{
		Email:    "student@hust.edu.vn",
		FullName: "Nguyen Van A",
		Role:     model.RoleStudent,
		Password: "secret123",
	}
	_, err := svc.Register(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), req)
	assert.ErrorIs(t, err, ErrEmailRegistered)
}

func TestRegisterInvalidRole(t *testing.T) {
	svc, _, _ := newUserServiceFixture()

	_, err := svc.Register(context.Background(), RegisterUserRequest{
		Email:    "student@hust.edu.vn",
		FullName: "Nguyen Van A",
		Role:     "admin",
		Password: "secret123",
	})
	assert.Error(t, err)
}

func TestLoginIssuesBearerToken(t *testing.T) {
	svc, _, _ := newUserServiceFixture()

	registered, err := svc.Register(context.Background(), RegisterUserRequest{
		Email:    "backoffice@hust.edu.vn",
		FullName: "Le Van C",
		Role:     model.RoleBackoffice,
		Password: "secret123",
	})
	require.NoError(t, err)

	tokenRes, err := svc.Login(context.Background(), LoginUserRequest{
		Email:    "backoffice@hust.edu.vn",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, "bearer", tokenRes.TokenType)

	token, err := jwt.Parse(tokenRes.AccessToken, func(t *jwt.Token) (interface{}, error) {
		return []byte("default_super_secret_key"), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)

	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "backoffice@hust.edu.vn", claims["sub"])
	assert.Equal(t, model.RoleBackoffice, claims["role"])
	assert.Equal(t, registered.ID.String(), claims["id"])
}

func TestLoginBadCredentials(t *testing.T) {
	svc, _, _ := newUserServiceFixture()

	_, err := svc.Register(context.Background(), RegisterUserRequest{
		Email:    "student@hust.edu.vn",
		FullName: "Nguyen Van A",
		Role:     model.RoleStudent,
		Password: "secret123",
	})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), LoginUserRequest{Email: "student@hust.edu.vn", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), LoginUserRequest{Email: "nobody@hust.edu.vn", Password: "secret123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestGetUserByID(t *testing.T) {
	svc, _, _ := newUserServiceFixture()

	registered, err := svc.Register(context.Background(), RegisterUserRequest{
		Email:    "student@hust.edu.vn",
		FullName: "Nguyen Van A",
		Role:     model.RoleStudent,
		Password: "secret123",
	})
	require.NoError(t, err)

	found, err := svc.GetUserByID(context.Background(), registered.ID.String())
	require.NoError(t, err)
	assert.Equal(t, registered.Email, found.Email)

	_, err = svc.GetUserByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.GetUserByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
