package echoapi

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
)

const (
	contextUserKey = "user"
	jwtAudience    = "Roofing"
)

var nowFunc = time.Now // mockable

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	Username     string `json:"username,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

// Actor returns who the request acts for.
func (c Claims) Actor() project.Actor {
	return project.Actor{UserID: c.Subject, Role: c.Role, ClientID: c.ClientID}
}

type authenticator struct {
	appName           string
	expiration        time.Duration
	refreshExpiration time.Duration
	jwtConfig         middleware.JWTConfig
}

func newAuthenticator(conf *core.Config) *authenticator {
	return &authenticator{
		appName:           conf.AppName,
		expiration:        conf.Server.JWTExpirationDelta,
		refreshExpiration: conf.Server.JWTRefreshExpirationDelta,
		jwtConfig: middleware.JWTConfig{
			SigningKey:    []byte(conf.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    "userToken",
			Claims:        new(Claims),
		},
	}
}

func (a *authenticator) claimsFor(usr user.User, origIat ...int64) *Claims {
	now := nowFunc()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    a.appName,
			Subject:   usr.ID,
			Audience:  jwtAudience,
			ExpiresAt: now.Add(a.expiration).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Username:     usr.Username,
		Email:        usr.Email,
		Role:         usr.Role,
		ClientID:     usr.ClientID,
	}
}

// generateToken returns the signed JWT token string representing the claims.
func (a *authenticator) generateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(a.jwtConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(a.jwtConfig.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (a *authenticator) authenticate(ctx context.Context, uname, pwd string, svc *user.Service) (*Claims, error) {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, errAuthenticationFailed
		}
		return nil, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return nil, errAuthenticationFailed
	}
	if !usr.IsActive {
		return nil, errAccountDeactivated
	}
	if usr, err = svc.SetLastLogin(ctx, usr); err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}
	return a.claimsFor(usr), nil
}

func (a *authenticator) contextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(a.jwtConfig.ContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func (a *authenticator) contextActor(ctx echo.Context) (project.Actor, error) {
	claims, err := a.contextClaims(ctx)
	if err != nil {
		return project.Actor{}, err
	}
	return claims.Actor(), nil
}

// contextUser loads the authenticated user once per request.
func (a *authenticator) contextUser(ctx echo.Context, svc *user.Service) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	claims, err := a.contextClaims(ctx)
	if err != nil {
		return user.User{}, err
	}
	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, errUnauthorized
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

func (a *authenticator) refreshToken(ctx echo.Context, svc *user.Service) (string, error) {
	claims, err := a.contextClaims(ctx)
	if err != nil {
		return "", err
	}
	usr, err := a.contextUser(ctx, svc)
	if err != nil {
		return "", err
	}

	// check if user is still active
	if !usr.IsActive {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(a.refreshExpiration)
	if nowFunc().After(expTime) {
		return "", errRefreshExpired
	}

	return a.generateToken(a.claimsFor(usr, claims.OrigIssuedAt))
}
