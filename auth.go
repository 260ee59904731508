package pagesync

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// identity and workspace context for one session.
// the jwt is issued by the auth layer and parsed unverified on the client,
// since the server re-verifies it on connect.
type SessionAuth struct {
	ByJwt      string
	InstanceId Id
	AppVersion string
}

func (self *SessionAuth) UserId() (Id, error) {
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil {
		return Id{}, err
	}
	return byJwt.UserId, nil
}

func (self *SessionAuth) WorkspaceId() (Id, error) {
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil {
		return Id{}, err
	}
	return byJwt.WorkspaceId, nil
}

// connecting or subscribing with partial context is forbidden.
// both the identity and the workspace must be present in the claims.
func (self *SessionAuth) Complete() bool {
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil {
		return false
	}
	return byJwt.UserId != Id{} && byJwt.WorkspaceId != Id{}
}

type ByJwt struct {
	UserId        Id
	WorkspaceId   Id
	WorkspaceName string
}

func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}

	if userIdStr, ok := claims["user_id"].(string); ok {
		if userId, err := ParseId(userIdStr); err == nil {
			byJwt.UserId = userId
		}
	}
	if workspaceIdStr, ok := claims["workspace_id"].(string); ok {
		if workspaceId, err := ParseId(workspaceIdStr); err == nil {
			byJwt.WorkspaceId = workspaceId
		}
	}
	if workspaceName, ok := claims["workspace_name"].(string); ok {
		byJwt.WorkspaceName = workspaceName
	}

	return byJwt, nil
}
