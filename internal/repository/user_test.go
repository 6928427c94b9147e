package repository

import (
	"context"
	"regexp"
	"testing"

	"shieldchat/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newUserTestDB(t *testing.T) (*gorm.DB, UserRepository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.UserIdentifier{}))
	return db, NewUserRepository(db)
}

// setupMockDB creates a GORM *gorm.DB backed by sqlmock for verifying
// the SQL the repository emits against the postgres dialect.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func TestUserRepository_GetByID_MissingIsNil(t *testing.T) {
	_, repo := newUserTestDB(t)

	user, err := repo.GetByID(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestUserRepository_GetByNames_LowersAndMaps(t *testing.T) {
	db, repo := newUserTestDB(t)
	require.NoError(t, db.Create(&models.User{Username: "Alice", Email: "a@example.com", Password: "x"}).Error)
	require.NoError(t, db.Create(&models.User{Username: "Bob", Email: "b@example.com", Password: "x"}).Error)

	found, err := repo.GetByNames(context.Background(), []string{"ALICE", "missing"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Alice", found["alice"].Username)
}

func TestUserRepository_FindConnectedUsers(t *testing.T) {
	db, repo := newUserTestDB(t)
	ctx := context.Background()

	for _, u := range []models.User{
		{Username: "main", Email: "m@example.com", Password: "x"},
		{Username: "alt", Email: "alt@example.com", Password: "x"},
		{Username: "bystander", Email: "by@example.com", Password: "x"},
	} {
		u := u
		require.NoError(t, db.Create(&u).Error)
	}

	// main and alt share a hardware hash; bystander shares only a
	// browserprint with main.
	idents := []models.UserIdentifier{
		{UserID: 1, IdentifierType: models.IdentifierMachineGUID, IdentifierHash: "hw-1"},
		{UserID: 2, IdentifierType: models.IdentifierMachineGUID, IdentifierHash: "hw-1"},
		{UserID: 1, IdentifierType: models.IdentifierBrowserprint, IdentifierHash: "bp-1"},
		{UserID: 3, IdentifierType: models.IdentifierBrowserprint, IdentifierHash: "bp-1"},
	}
	for _, i := range idents {
		i := i
		require.NoError(t, repo.UpsertIdentifier(ctx, &i))
	}

	connected, err := repo.FindConnectedUsers(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []uint{2}, connected)

	connected, err = repo.FindConnectedUsers(ctx, 1, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{2, 3}, connected)
}

func TestUserRepository_UpsertIdentifier_Idempotent(t *testing.T) {
	_, repo := newUserTestDB(t)
	ctx := context.Background()

	ident := models.UserIdentifier{UserID: 1, IdentifierType: models.IdentifierMachineGUID, IdentifierHash: "hw-1"}
	require.NoError(t, repo.UpsertIdentifier(ctx, &ident))

	dup := models.UserIdentifier{UserID: 1, IdentifierType: models.IdentifierMachineGUID, IdentifierHash: "hw-1"}
	require.NoError(t, repo.UpsertIdentifier(ctx, &dup))

	got, err := repo.GetIdentifiers(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestUserRepository_GetByID_PostgresSQL(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"id", "username", "email", "password"}).
		AddRow(7, "alice", "a@example.com", "x")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "users"."id" = $1`)).
		WithArgs(7, 1).
		WillReturnRows(rows)

	user, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}
