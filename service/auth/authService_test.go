package authsvc

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/Danylo-D87/library-service/model"
	"github.com/Danylo-D87/library-service/util/hash"
	jwtutil "github.com/Danylo-D87/library-service/util/jwt"
)

type userRepoMock struct {
	createFn  func(ctx context.Context, u *model.User) error
	byEmailFn func(ctx context.Context, email string) (*model.User, error)
	byIDFn    func(ctx context.Context, id int64) (*model.User, error)
}

func (m *userRepoMock) Create(ctx context.Context, u *model.User) error {
	return m.createFn(ctx, u)
}

func (m *userRepoMock) ByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.byEmailFn(ctx, email)
}

func (m *userRepoMock) ByID(ctx context.Context, id int64) (*model.User, error) {
	return m.byIDFn(ctx, id)
}

const secret = "test-secret"

func TestRegister(t *testing.T) {
	ur := &userRepoMock{
		createFn: func(ctx context.Context, u *model.User) error {
			u.ID = 7
			return nil
		},
	}
	svc := New(ur, secret)

	u, token, err := svc.Register(context.Background(), model.RegisterReq{
		Email:     "  Reader@Example.COM ",
		FirstName: "Taras",
		LastName:  "Shevchenko",
		Password:  "hunter22",
	})
	require.NoError(t, err)
	require.Equal(t, "reader@example.com", u.Email)
	require.Equal(t, model.RoleUser, u.Role)
	require.True(t, hash.Check(u.PasswordHash, "hunter22"))
	require.NotEqual(t, "hunter22", u.PasswordHash)

	claims, err := jwtutil.ParseAuth("Bearer "+token, secret)
	require.NoError(t, err)
	require.Equal(t, float64(7), claims["sub"])
	require.Equal(t, model.RoleUser, claims["role"])
}

func TestRegister_EmailTaken(t *testing.T) {
	ur := &userRepoMock{
		createFn: func(ctx context.Context, u *model.User) error {
			return &pgconn.PgError{Code: pgerrcode.UniqueViolation}
		},
	}
	svc := New(ur, secret)

	_, _, err := svc.Register(context.Background(), model.RegisterReq{
		Email: "reader@example.com", FirstName: "T", LastName: "S", Password: "hunter22",
	})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	hashed, err := hash.HashPassword("hunter22")
	require.NoError(t, err)

	ur := &userRepoMock{
		byEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: 7, Email: email, PasswordHash: hashed, Role: model.RoleStaff}, nil
		},
	}
	svc := New(ur, secret)

	u, token, err := svc.Login(context.Background(), model.LoginReq{Email: "reader@example.com", Password: "hunter22"})
	require.NoError(t, err)
	require.Equal(t, int64(7), u.ID)

	claims, err := jwtutil.ParseAuth(token, secret)
	require.NoError(t, err)
	require.Equal(t, model.RoleStaff, claims["role"])
}

func TestLogin_WrongPassword(t *testing.T) {
	hashed, err := hash.HashPassword("hunter22")
	require.NoError(t, err)

	ur := &userRepoMock{
		byEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: 7, Email: email, PasswordHash: hashed}, nil
		},
	}
	svc := New(ur, secret)

	_, _, err = svc.Login(context.Background(), model.LoginReq{Email: "reader@example.com", Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCreds)
}

func TestLogin_UnknownEmail(t *testing.T) {
	ur := &userRepoMock{
		byEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, sql.ErrNoRows
		},
	}
	svc := New(ur, secret)

	_, _, err := svc.Login(context.Background(), model.LoginReq{Email: "ghost@example.com", Password: "hunter22"})
	require.ErrorIs(t, err, ErrInvalidCreds)
}
