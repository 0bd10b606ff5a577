package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/user"
)

const targetUserKey = "targetUser" // the :id user, loaded by loadUserMiddleware

var (
	errUsrNotFoundInCtx  = errors.New("user object not found in echo.Context")
	errNoPermsToSetRoles = "not enough rights to set this role"
)

type userApi struct {
	svc        *user.Service
	auth       *authenticator
	validate   *validator.Validate
	translator ut.Translator
}

func registerUserAPI(g *echo.Group, jwt, limit echo.MiddlewareFunc, auth *authenticator, deps *Deps) {
	api := userApi{
		svc:        deps.UserSvc,
		auth:       auth,
		validate:   deps.Validate,
		translator: deps.Translator,
	}
	admin := roleMiddleware(auth, user.RoleAdmin)
	staff := roleMiddleware(auth, user.RoleAdmin, user.RoleEstimator)

	ug := g.Group("/users")
	ug.POST("/login", api.login, limit)
	ug.POST("/password-reset", api.resetPassword, limit)
	ug.POST("/password-reset-confirm", api.confirmPasswordReset, limit)

	ag := ug.Group("", jwt)
	ag.POST("/token-refresh", api.refreshToken)
	ag.POST("/register", api.create, admin)
	ag.GET("", api.query, admin)
	ag.GET("/roles", api.queryRoles, admin)
	ag.GET("/estimators", api.estimators, staff)

	dg := ag.Group("/:id", api.loadUserMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy, admin)
}

// Handlers

func (api *userApi) create(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	ctxUsr, err := api.auth.contextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	if err := canGrantRole(ctxUsr, data.Role); err != nil {
		return err
	}

	usr, err := api.svc.Create(rctx, data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := api.auth.authenticate(ctx.Request().Context(), data.Username, data.Password, api.svc)
	if err != nil {
		return err
	}
	token, err := api.auth.generateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); err != nil {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *userApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if _, err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *userApi) query(ctx echo.Context) error {
	filter := new(user.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx, userOrderFields)

	users, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

// estimators lists the active estimators a project can be assigned to.
func (api *userApi) estimators(ctx echo.Context) error {
	active := true
	filter := &user.QueryFilter{Roles: []string{user.RoleEstimator}, IsActive: &active}
	users, err := api.svc.Query(ctx.Request().Context(), filter, []core.DBOrdering{{Field: "name", Ascending: true}})
	if err != nil {
		return errors.Wrap(err, "querying estimators")
	}

	resp := make([]EstimatorResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, EstimatorResponse{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, err := loadedUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) update(ctx echo.Context) error {
	usr, err := loadedUser(ctx)
	if err != nil {
		return err
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}

	ctxUsr, err := api.auth.contextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	// account fields and the client binding are admin-only
	if !ctxUsr.IsAdmin() && (data.IsActive != nil || data.Role != "" || data.ClientID != nil || data.Username != "" || data.Email != "") {
		return errHttpForbidden
	}

	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, usr, api.validate, api.svc); err != nil {
		return err
	}
	if err := canGrantRole(ctxUsr, data.Role); err != nil {
		return err
	}

	usr, err = api.svc.Update(rctx, usr, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) destroy(ctx echo.Context) error {
	usr, err := loadedUser(ctx)
	if err != nil {
		return err
	}

	ctxUsr, err := api.auth.contextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	if usr.ID == ctxUsr.ID {
		return errHttpForbidden
	}

	if _, err := api.svc.Delete(ctx.Request().Context(), usr.ID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := api.auth.refreshToken(ctx, api.svc)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

// canGrantRole stops users from handing out a role above their own.
func canGrantRole(ctxUsr user.User, role string) error {
	if user.RolePriority(role) > user.RolePriority(ctxUsr.Role) {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errNoPermsToSetRoles})
	}
	return nil
}

func loadedUser(ctx echo.Context) (user.User, error) {
	usr, ok := ctx.Get(targetUserKey).(user.User)
	if !ok {
		return user.User{}, errors.Wrap(errUsrNotFoundInCtx, "retrieving user from context")
	}
	return usr, nil
}

// loadUserMiddleware loads the `:id` user for admins or the user themselves; others get a 404.
func (api *userApi) loadUserMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ctxUsr, err := api.auth.contextUser(ctx, api.svc)
		if err != nil {
			return err
		}

		if ctx.Param("id") == ctxUsr.ID || ctxUsr.IsAdmin() {
			usr, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err == nil {
				ctx.Set(targetUserKey, usr)
				return next(ctx)
			}
			if !errors.Is(err, user.ErrNotFound) {
				return errors.Wrap(err, "finding user by ID")
			}
		}
		return errHttpNotFound
	}
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	EstimatorResponse struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
