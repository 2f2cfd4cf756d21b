package auth

import (
	"net/http"
	"strings"
)

// Identity is the verified claim the core consumes. Token cryptography is
// owned by the external auth subsystem; this package only validates.
type Identity struct {
	UserID   string
	Username string
}

// AuthError rejects a connection upgrade. Fatal to that attempt only.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Reason
}

func authError(reason string) *AuthError {
	return &AuthError{Reason: reason}
}

// Verifier validates upgrade credentials. A plain capability object: it is
// handed to whatever constructs the upgrade handler, never attached to a
// global.
type Verifier struct {
	cfg *JWTConfig
}

// NewVerifier builds a verifier around the JWT configuration.
func NewVerifier(cfg *JWTConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// VerifyUpgrade extracts and validates the credential on an upgrade request.
// The token may arrive in the Authorization header or the token query
// parameter (browser WebSocket clients cannot set headers). On any failure
// the upgrade must be rejected before socket resources are allocated.
func (v *Verifier) VerifyUpgrade(r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return Identity{}, authError("missing credential")
	}

	claims, err := ValidateToken(v.cfg, token)
	if err != nil {
		return Identity{}, authError("invalid credential")
	}
	if claims.UserID == "" {
		return Identity{}, authError("credential carries no user identity")
	}
	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
