package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/roofest/core"
)

// Roles
const (
	RoleAdmin     = "admin"
	RoleEstimator = "estimator"
	RoleUser      = "user" // a client's user
)

var (
	AllRoles = []string{RoleAdmin, RoleEstimator, RoleUser}

	rolePriorities = map[string]int{
		RoleAdmin:     30,
		RoleEstimator: 20,
		RoleUser:      10,
	}

	Roles = []Role{
		{Name: "Client", Value: RoleUser},
		{Name: "Estimator", Value: RoleEstimator},
		{Name: "Admin", Value: RoleAdmin},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

func IsValidRole(role string) bool {
	_, ok := rolePriorities[role]
	return ok
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	IsActive     bool       `json:"is_active"`
	Role         string     `json:"role"`
	ClientID     string     `json:"client_id,omitempty"`
	PasswordHash []byte     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"` // UTC
	UpdatedAt    time.Time  `json:"updated_at"` // UTC
	LastLogin    *time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsAdmin() bool     { return u.Role == RoleAdmin }
func (u *User) IsEstimator() bool { return u.Role == RoleEstimator }
func (u *User) IsClient() bool    { return u.Role == RoleUser }

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"required"`
	Username        string `json:"username" validate:"omitempty,min=3,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Role            string `json:"role" validate:"omitempty,role"`
	ClientID        string `json:"client_id" validate:"omitempty,uuid"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.ClientID = core.CleanString(nu.ClientID)
	if nu.Role == "" {
		nu.Role = RoleUser
	}

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string  `json:"name"`
	Username        string  `json:"username" validate:"omitempty,min=3,alphanum_"`
	Email           string  `json:"email" validate:"omitempty,email"`
	IsActive        *bool   `json:"is_active"`
	Role            string  `json:"role" validate:"omitempty,role"`
	ClientID        *string `json:"client_id" validate:"omitempty,uuid"`
	Password        string  `json:"password" validate:"omitempty"`
	PasswordConfirm string  `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc *Service) error {
	name := core.CleanString(uu.Name)
	if name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	uname := core.CleanString(uu.Username, true /* lower */)
	if uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if uu.Role == "" {
		uu.Role = origUsr.Role
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Username, uu.Email, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	ClientID    string    `query:"client_id"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.ClientID == "" &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.ClientID = core.CleanString(qf.ClientID)
}

// GetFilter identifies a single user; the first non-empty field wins.
type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail string
}
