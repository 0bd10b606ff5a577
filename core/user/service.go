package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/roofest/core"
)

var (
	// errors
	ErrNotFound       = core.NewNotFoundError("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	ErrInvalidToken   = core.NewValidationError(errInvalidToken, core.FieldError{Field: "token", Error: "invalid or expired token"})

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		// CheckUniqueness returns ErrUsernameExists or ErrEmailExists, ignoring `excludedUsers`.
		CheckUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, user User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		UpdateUser(ctx context.Context, user User) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...string) (int, error)
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
		tokens  tokenGenerator
	}
)

func NewService(conf *core.Config, repo Repository, mailSvc core.EmailService) *Service {
	return &Service{
		repo:    repo,
		mailSvc: mailSvc,
		tokens: tokenGenerator{
			secretKey: []byte(conf.SecretKey),
			timeout:   conf.PasswordResetTimeoutDelta,
		},
	}
}

func (svc *Service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUniqueness(ctx, uname, email, exclUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := nowFunc().UTC()
	usr := User{
		ID:        core.NewID(),
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Role:      nu.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if usr.Role == "" {
		usr.Role = RoleUser
	}
	if usr.Role == RoleUser {
		usr.ClientID = nu.ClientID
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	if !core.IsUUID(id) {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	usr.Role = uu.Role
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.ClientID != nil {
		usr.ClientID = *uu.ClientID
	}
	if usr.Role != RoleUser {
		usr.ClientID = ""
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "hashing password")
		}
	}
	usr.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// SetLastLogin records a successful login; it also invalidates pending password reset tokens.
func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := nowFunc().UTC()
	usr.LastLogin = &now
	usr.UpdatedAt = now
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) (int, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if core.IsUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}
	return svc.repo.DeleteUsersByID(ctx, valid...)
}

type passwordResetData struct {
	Name  string
	UID   string
	Token string
}

func (svc *Service) sendPasswordResetMail(usr User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: passwordResetData{
			Name:  usr.Name,
			UID:   EncodeUID(usr),
			Token: svc.tokens.makeToken(usr),
		},
	})
}

// RequestPasswordReset emails a reset link to the user with `email`.
// Unknown or inactive users are silently ignored so the endpoint does not reveal who has an account.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !usr.IsActive || usr.Email == "" {
		return nil
	}
	svc.sendPasswordResetMail(usr)
	return nil
}

// ResetPassword sets a new password if the uid/token pair is valid.
func (svc *Service) ResetPassword(ctx context.Context, rp ResetUserPassword) (User, error) {
	id, err := decodeUID(rp.UID)
	if err != nil || !core.IsUUID(id) {
		return User{}, ErrInvalidToken
	}
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: id})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidToken
		}
		return User{}, err
	}
	if err := svc.tokens.verifyToken(usr, rp.Token); err != nil {
		return User{}, ErrInvalidToken
	}

	if err := usr.SetPassword(rp.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}
