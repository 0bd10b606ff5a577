package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/user"
)

var userColumns = []string{
	"id", "name", "username", "email", "is_active", "role", "client_id",
	"password_hash", "created_at", "updated_at", "last_login",
}

type userRow struct {
	ID           string      `db:"id"`
	Name         string      `db:"name"`
	Username     null.String `db:"username"`
	Email        null.String `db:"email"`
	IsActive     bool        `db:"is_active"`
	Role         string      `db:"role"`
	ClientID     null.String `db:"client_id"`
	PasswordHash string      `db:"password_hash"`
	CreatedAt    string      `db:"created_at"`
	UpdatedAt    string      `db:"updated_at"`
	LastLogin    null.String `db:"last_login"`
}

func toUserRow(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     usr.IsActive,
		Role:         usr.Role,
		ClientID:     null.NewString(usr.ClientID, usr.ClientID != ""),
		PasswordHash: string(usr.PasswordHash),
		CreatedAt:    formatTime(usr.CreatedAt),
		UpdatedAt:    formatTime(usr.UpdatedAt),
		LastLogin:    nullTime(usr.LastLogin),
	}
}

func (row userRow) user() user.User {
	return user.User{
		ID:           row.ID,
		Name:         row.Name,
		Username:     row.Username.String,
		Email:        row.Email.String,
		IsActive:     row.IsActive,
		Role:         row.Role,
		ClientID:     row.ClientID.String,
		PasswordHash: []byte(row.PasswordHash),
		CreatedAt:    parseTime(row.CreatedAt),
		UpdatedAt:    parseTime(row.UpdatedAt),
		LastLogin:    parseNullTime(row.LastLogin),
	}
}

type userRepository struct {
	repo
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{repo{db: db}}
}

func (r userRepository) CheckUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	exec := r.getExec(nil)
	or := sq.Or{}
	if username != "" {
		or = append(or, sq.Eq{"username": username})
	}
	if email != "" {
		or = append(or, sq.Eq{"email": email})
	}
	if len(or) == 0 {
		return nil
	}

	q := builder(exec).Select("username", "email").From("users").Where(or)
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		q = q.Where(sq.NotEq{"id": ids})
	}

	var rows []struct {
		Username null.String `db:"username"`
		Email    null.String `db:"email"`
	}
	if err := selectAll(ctx, exec, &rows, q.Limit(2)); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, row := range rows {
		if username != "" && row.Username.String == username {
			return user.ErrUsernameExists
		}
		if email != "" && row.Email.String == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (r userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		usr.ID = core.NewID()
	}
	row := toUserRow(usr)
	exec := r.getExec(nil)
	q := builder(exec).Insert("users").Columns(userColumns...).Values(
		row.ID, row.Name, row.Username, row.Email, row.IsActive, row.Role, row.ClientID,
		row.PasswordHash, row.CreatedAt, row.UpdatedAt, row.LastLogin,
	)
	if _, err := execute(ctx, exec, q); err != nil {
		return user.User{}, r.trapUniqueErr(err, "inserting user")
	}
	return row.user(), nil
}

func (r userRepository) trapUniqueErr(err error, msg string) error {
	if isUnique, onUsername := uniqueViolation(err, "username"); isUnique {
		if onUsername {
			return user.ErrUsernameExists
		}
		return user.ErrEmailExists
	}
	return errors.Wrap(err, msg)
}

func (r userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	exec := r.getExec(nil)
	q := builder(exec).Select(userColumns...).From("users")

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			q = q.Where(likeAny(filter.Search, "name", "username", "email"))
		}
		if len(filter.Roles) > 0 {
			q = q.Where(sq.Eq{"role": filter.Roles})
		}
		if filter.IsActive != nil {
			q = q.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if filter.ClientID != "" {
			q = q.Where(sq.Eq{"client_id": filter.ClientID})
		}
		if !filter.CreatedFrom.IsZero() {
			q = q.Where(sq.GtOrEq{"created_at": formatTime(filter.CreatedFrom)})
		}
		if !filter.CreatedTo.IsZero() {
			q = q.Where(sq.LtOrEq{"created_at": formatTime(filter.CreatedTo)})
		}
	}
	q = orderBy(q, ordering, "created_at DESC")

	var rows []userRow
	if err := selectAll(ctx, exec, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.user())
	}
	return users, nil
}

func (r userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	exec := r.getExec(nil)
	q := builder(exec).Select(userColumns...).From("users")

	switch {
	case filter.ID != "":
		if !core.IsUUID(filter.ID) {
			return user.User{}, user.ErrNotFound
		}
		q = q.Where(sq.Eq{"id": filter.ID})
	case filter.Username != "":
		q = q.Where(sq.Eq{"username": filter.Username})
	case filter.Email != "":
		q = q.Where(sq.Eq{"email": filter.Email})
	case filter.UsernameOrEmail != "":
		q = q.Where(sq.Or{sq.Eq{"username": filter.UsernameOrEmail}, sq.Eq{"email": filter.UsernameOrEmail}})
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := get(ctx, exec, &row, q.Limit(1)); err != nil {
		return user.User{}, trapNoRows(err, user.ErrNotFound, "finding user")
	}
	return row.user(), nil
}

func (r userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := toUserRow(usr)
	exec := r.getExec(nil)
	q := builder(exec).Update("users").SetMap(map[string]interface{}{
		"name":          row.Name,
		"username":      row.Username,
		"email":         row.Email,
		"is_active":     row.IsActive,
		"role":          row.Role,
		"client_id":     row.ClientID,
		"password_hash": row.PasswordHash,
		"updated_at":    row.UpdatedAt,
		"last_login":    row.LastLogin,
	}).Where(sq.Eq{"id": row.ID})

	res, err := execute(ctx, exec, q)
	if err != nil {
		return user.User{}, r.trapUniqueErr(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return row.user(), nil
}

func (r userRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	exec := r.getExec(nil)
	res, err := execute(ctx, exec, builder(exec).Delete("users").Where(sq.Eq{"id": ids}))
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	return int(cnt), nil
}
