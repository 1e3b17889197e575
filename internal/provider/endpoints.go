// Package provider implements the I/O boundary with the upstream OIDC
// identity provider: OpenID Connect realm endpoints, the token exchange
// client, userinfo and end-session calls. It holds no per-user state;
// every call is a bounded, context-aware HTTP request.
package provider

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoints is the fixed set of realm URLs the broker talks to. The
// provider is Keycloak-shaped: everything hangs off <base>/realms/<realm>.
type Endpoints struct {
	Base  string
	Realm string
}

// NewEndpoints normalizes the base URL and returns the endpoint set.
func NewEndpoints(baseURL, realm string) Endpoints {
	return Endpoints{
		Base:  strings.TrimRight(baseURL, "/"),
		Realm: realm,
	}
}

func (e Endpoints) realmURL(suffix string) string {
	return fmt.Sprintf("%s/realms/%s%s", e.Base, url.PathEscape(e.Realm), suffix)
}

// Authorize is the authorization endpoint users are redirected to.
func (e Endpoints) Authorize() string {
	return e.realmURL("/protocol/openid-connect/auth")
}

// Token is the token endpoint all grants are posted to.
func (e Endpoints) Token() string {
	return e.realmURL("/protocol/openid-connect/token")
}

// UserInfo returns the userinfo endpoint.
func (e Endpoints) UserInfo() string {
	return e.realmURL("/protocol/openid-connect/userinfo")
}

// Logout is the end-session endpoint.
func (e Endpoints) Logout() string {
	return e.realmURL("/protocol/openid-connect/logout")
}

// WebAuthnRegister starts a passkey registration ceremony.
func (e Endpoints) WebAuthnRegister() string {
	return e.realmURL("/protocol/openid-connect/ws/register")
}

// WebAuthnRegisterFinish completes a passkey registration ceremony.
func (e Endpoints) WebAuthnRegisterFinish() string {
	return e.realmURL("/protocol/openid-connect/register/finish")
}

// WebAuthnAuthenticateFinish completes a passkey assertion.
func (e Endpoints) WebAuthnAuthenticateFinish() string {
	return e.realmURL("/protocol/openid-connect/authenticate/finish")
}

// AdminClients is the client-management API collection URL.
func (e Endpoints) AdminClients() string {
	return fmt.Sprintf("%s/admin/realms/%s/clients", e.Base, url.PathEscape(e.Realm))
}

// AdminUsers is the user-management API collection URL.
func (e Endpoints) AdminUsers() string {
	return fmt.Sprintf("%s/admin/realms/%s/users", e.Base, url.PathEscape(e.Realm))
}
