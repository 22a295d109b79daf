package board

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// identity is issued by an external collaborator. the engine only
// extracts claims for presence labels and scoping. verification stays
// with the issuer.
type ClientAuth struct {
	// opaque signed identity token
	Token string
	// fresh per connection. assigned when zero.
	ConnectionId Id
}

type Identity struct {
	UserId      Id
	DisplayName string
}

func ParseIdentityUnverified(token string) (*Identity, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := parsed.Claims.(gojwt.MapClaims)

	identity := &Identity{}
	if userIdStr, ok := claims["user_id"].(string); ok {
		if userId, err := ParseId(userIdStr); err == nil {
			identity.UserId = userId
		}
	}
	if sub, ok := claims["sub"].(string); ok && (identity.UserId == Id{}) {
		if userId, err := ParseId(sub); err == nil {
			identity.UserId = userId
		}
	}
	if name, ok := claims["name"].(string); ok {
		identity.DisplayName = name
	}

	return identity, nil
}
