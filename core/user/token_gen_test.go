package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMakeVerifyToken(t *testing.T) {
	tg := tokenGenerator{secretKey: []byte("secret"), timeout: 3 * 24 * time.Hour}

	now := time.Now()
	usr := User{
		ID:        "5f0c3c9e-7f55-4a7b-9d6e-51a4f3a1d2b0",
		Name:      "T",
		Username:  "t",
		Email:     "t@test.test",
		IsActive:  true,
		Role:      RoleEstimator,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: &now,
	}
	_ = usr.SetPassword("pwd")

	validToken := tg.makeToken(usr)

	// generate an expired token
	dayLate := tg.timeout + (24 * time.Hour)
	nowFunc = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken := tg.makeToken(usr)
	nowFunc = time.Now // reset

	// a new login invalidates issued tokens
	later := now.Add(time.Minute)
	loggedIn := usr
	loggedIn.LastLogin = &later

	otherKey := tokenGenerator{secretKey: []byte("other"), timeout: tg.timeout}

	tests := []struct {
		name    string
		tg      tokenGenerator
		usr     User
		token   string
		wantErr error
	}{
		{name: "no token", tg: tg, usr: usr, wantErr: errInvalidToken},
		{name: "invalid parts len", tg: tg, usr: usr, token: "lmaooolol", wantErr: errInvalidToken},
		{name: "invalid base32", tg: tg, usr: usr, token: "hahaha-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid timestamp", tg: tg, usr: usr, token: "NRXWY-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid token", tg: tg, usr: usr, token: "HE4TS-sigsig-sig", wantErr: errInvalidToken},
		{name: "expired token", tg: tg, usr: usr, token: expiredToken, wantErr: errTokenExpired},
		{name: "user logged in since", tg: tg, usr: loggedIn, token: validToken, wantErr: errInvalidToken},
		{name: "other secret key", tg: otherKey, usr: usr, token: validToken, wantErr: errInvalidToken},
		{name: "valid token", tg: tg, usr: usr, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.tg.verifyToken(tt.usr, tt.token))
		})
	}
}

func TestEncodeUID(t *testing.T) {
	usr := User{ID: "5f0c3c9e-7f55-4a7b-9d6e-51a4f3a1d2b0"}

	id, err := decodeUID(EncodeUID(usr))
	assert.NoError(t, err)
	assert.Equal(t, usr.ID, id)

	_, err = decodeUID("%%%")
	assert.Error(t, err)
}
