package pagesync

import (
	"testing"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func signTestJwt(t *testing.T, claims gojwt.MapClaims) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	jwt, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return jwt
}

func newTestSessionAuth(t *testing.T) (*SessionAuth, Id, Id) {
	userId := NewId()
	workspaceId := NewId()
	jwt := signTestJwt(t, gojwt.MapClaims{
		"user_id":        userId.String(),
		"workspace_id":   workspaceId.String(),
		"workspace_name": "test",
	})
	auth := &SessionAuth{
		ByJwt:      jwt,
		InstanceId: NewId(),
		AppVersion: "test 0.0.0",
	}
	return auth, userId, workspaceId
}

func TestParseByJwtUnverified(t *testing.T) {
	auth, userId, workspaceId := newTestSessionAuth(t)

	byJwt, err := ParseByJwtUnverified(auth.ByJwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, byJwt.UserId, userId)
	assert.Equal(t, byJwt.WorkspaceId, workspaceId)
	assert.Equal(t, byJwt.WorkspaceName, "test")

	assert.Equal(t, auth.Complete(), true)
}

func TestSessionAuthIncomplete(t *testing.T) {
	jwt := signTestJwt(t, gojwt.MapClaims{
		"user_id": NewId().String(),
	})
	auth := &SessionAuth{
		ByJwt: jwt,
	}
	assert.Equal(t, auth.Complete(), false)

	auth = &SessionAuth{
		ByJwt: "not a jwt",
	}
	assert.Equal(t, auth.Complete(), false)
}
