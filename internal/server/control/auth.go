// Package control implements the coordinator websocket control-plane
// connection: publish authorization requests and stream-kill commands
// exchanged with an external coordinator server (spec.md's supplemented
// coordinator feature).
package control

import (
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// MakeAuthenticationToken signs a short JWT identifying this server to
// the coordinator, or "" if CONTROL_SECRET isn't configured (standalone
// mode).
func MakeAuthenticationToken() string {
	secret := os.Getenv("CONTROL_SECRET")
	if secret == "" {
		return ""
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "rtmp-control",
	})

	tokenb64, err := token.SignedString([]byte(secret))
	if err != nil {
		return ""
	}
	return tokenb64
}
