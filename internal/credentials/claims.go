package credentials

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDFromToken reads the user_id claim of an access token without
// verifying its signature. The backend verifies tokens; the client only needs
// to know whose token it holds.
func UserIDFromToken(token string) (int64, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("parse access token: %w", err)
	}

	raw, ok := claims["user_id"]
	if !ok {
		return 0, ErrNoUserClaim
	}

	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected user_id claim type %T", raw)
	}
}
