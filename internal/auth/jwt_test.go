package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTResolver_Resolve(t *testing.T) {
	userID := uuid.New()
	resolver := NewJWTResolver("s3cr3t", "questline")

	valid, err := resolver.Sign(userID, time.Hour)
	require.NoError(t, err)

	expired, err := resolver.Sign(userID, -time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewJWTResolver("other", "questline").Sign(userID, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewJWTResolver("s3cr3t", "someone-else").Sign(userID, time.Hour)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		Issuer:    "questline",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cr3t"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: userID.String(),
		Issuer:  "questline",
	}).SignedString([]byte("s3cr3t"))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    "questline",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cr3t"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "valid", token: valid},
		{name: "empty", token: "", wantErr: true},
		{name: "garbage", token: "a.b.c", wantErr: true},
		{name: "expired", token: expired, wantErr: true},
		{name: "wrong secret", token: otherSecret, wantErr: true},
		{name: "wrong issuer", token: otherIssuer, wantErr: true},
		{name: "subject not a uuid", token: badSubject, wantErr: true},
		{name: "missing expiry", token: noExpiry, wantErr: true},
		{name: "unexpected algorithm", token: hs512, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.Equal(t, uuid.Nil, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, userID, got)
		})
	}
}
