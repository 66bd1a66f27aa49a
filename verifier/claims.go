package verifier

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/auth-bridge/models"
)

// passthroughClaims are custom claims copied to the payload unchanged when present
var passthroughClaims = []string{"roles", "permissions", "account", "accounts", "apps", "status"}

// NormalizeClaims maps verified token claims onto the identity payload shape
// the synchronizer expects. The raw claims stay available under "claims".
func NormalizeClaims(claims jwt.MapClaims) models.IdentityPayload {
	sub, _ := claims.GetSubject()

	payload := models.IdentityPayload{
		"id":     sub,
		"claims": map[string]any(claims),
	}

	if email, ok := claims["email"].(string); ok {
		payload["email"] = email
	}
	if name, ok := claims["name"].(string); ok {
		payload["name"] = name
	}
	if picture, ok := claims["picture"].(string); ok {
		payload["avatar_url"] = picture
	}
	if verified, ok := claims["email_verified"].(bool); ok {
		payload["email_verified"] = verified
	}
	if provider, ok := nestedString(claims, "firebase", "sign_in_provider"); ok {
		payload["sign_in_provider"] = provider
	}

	for _, name := range passthroughClaims {
		if value, ok := claims[name]; ok {
			payload[name] = value
		}
	}

	return payload
}

func nestedString(claims jwt.MapClaims, object, key string) (string, bool) {
	inner, ok := claims[object].(map[string]any)
	if !ok {
		return "", false
	}
	value, ok := inner[key].(string)
	return value, ok
}
