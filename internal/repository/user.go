package repository

import (
	"context"
	"errors"
	"strings"

	"shieldchat/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository is the user-directory collaborator. Absence is a nil
// result, not an error.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*models.User, error)
	// GetByNames maps lowercased usernames to users; unresolved names
	// are absent from the map.
	GetByNames(ctx context.Context, names []string) (map[string]*models.User, error)
	Create(ctx context.Context, user *models.User) error
	GetIdentifiers(ctx context.Context, userID uint) ([]*models.UserIdentifier, error)
	UpsertIdentifier(ctx context.Context, ident *models.UserIdentifier) error
	// FindConnectedUsers returns the ids of other users sharing at
	// least one identifier with the given user. Used to tie a
	// suspected alt account back to its banned siblings.
	FindConnectedUsers(ctx context.Context, userID uint, excludeBrowserprint bool) ([]uint, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []uint) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []*models.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

func (r *userRepository) GetByNames(ctx context.Context, names []string) (map[string]*models.User, error) {
	if len(names) == 0 {
		return map[string]*models.User{}, nil
	}

	lowered := make([]string, 0, len(names))
	for _, name := range names {
		lowered = append(lowered, strings.ToLower(name))
	}

	var users []*models.User
	if err := r.db.WithContext(ctx).
		Where("LOWER(username) IN ?", lowered).
		Find(&users).Error; err != nil {
		return nil, err
	}

	out := make(map[string]*models.User, len(users))
	for _, user := range users {
		out[strings.ToLower(user.Username)] = user
	}
	return out, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) GetIdentifiers(ctx context.Context, userID uint) ([]*models.UserIdentifier, error) {
	var idents []*models.UserIdentifier
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&idents).Error
	return idents, err
}

func (r *userRepository) UpsertIdentifier(ctx context.Context, ident *models.UserIdentifier) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ident).Error
}

func (r *userRepository) FindConnectedUsers(ctx context.Context, userID uint, excludeBrowserprint bool) ([]uint, error) {
	sql := `
		SELECT DISTINCT other.user_id
		FROM user_identifiers own
		JOIN user_identifiers other
		  ON other.identifier_type = own.identifier_type AND other.identifier_hash = own.identifier_hash
		WHERE own.user_id = ? AND other.user_id <> ?`
	args := []any{userID, userID}
	if excludeBrowserprint {
		sql += ` AND own.identifier_type <> ?`
		args = append(args, models.IdentifierBrowserprint)
	}

	var ids []uint
	err := r.db.WithContext(ctx).Raw(sql, args...).Scan(&ids).Error
	return ids, err
}
