// Package passkey holds the shapes of the single passkey ceremony
// endpoint, which multiplexes the four WebAuthn phases on an action
// field.
package passkey

import (
	"encoding/json"

	"github.com/pehchan-id/pehchan/internal/webauthn"
)

// Actions accepted by the ceremony endpoint.
const (
	ActionRegister           = "register"
	ActionRegisterFinish     = "register-finish"
	ActionAuthenticate       = "authenticate"
	ActionAuthenticateFinish = "authenticate-finish"
)

// Request is one ceremony phase. Credential is required only by the
// finish actions.
type Request struct {
	Action     string               `json:"action"`
	Username   string               `json:"username"`
	Credential *webauthn.Credential `json:"credential,omitempty"`
}

// ChallengeResponse is the authenticate-begin payload the browser feeds
// to navigator.credentials.get.
type ChallengeResponse struct {
	Challenge        string `json:"challenge"`
	RPID             string `json:"rpId"`
	Type             string `json:"type"`
	UserVerification string `json:"userVerification"`
}

// RelayResponse forwards the provider's ceremony payload untouched.
type RelayResponse = json.RawMessage

// AuthenticatedResponse closes a successful authentication; the session
// cookies are already set.
type AuthenticatedResponse struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Message         string `json:"message"`
}
