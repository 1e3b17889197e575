package webauthn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pehchan-id/pehchan/internal/provider"
)

const loginPage = `<html><body><script>
    const webAuthnParams = {
        challenge : 'dGVzdC1jaGFsbGVuZ2U',
        userVerification: 'preferred'
    };
</script></body></html>`

func newBroker(t *testing.T, handler http.Handler) (*Broker, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	pc := provider.NewClient(provider.NewEndpoints(srv.URL, "citizens"), "portal-web", "secret", 2*time.Second)
	return NewBroker(pc), srv
}

func TestBeginAuthentication(t *testing.T) {
	t.Parallel()
	var gotForm map[string]string
	b, _ := newBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/realms/citizens/protocol/openid-connect/auth", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"acr_values": r.PostFormValue("acr_values"),
			"username":   r.PostFormValue("username"),
			"client_id":  r.PostFormValue("client_id"),
		}
		w.Write([]byte(loginPage))
	}))

	ch, err := b.BeginAuthentication(context.Background(), "citizen@example.pk", "https://portal.example.pk")
	require.NoError(t, err)
	require.Equal(t, "dGVzdC1jaGFsbGVuZ2U", ch.Challenge)
	require.Equal(t, "portal.example.pk", ch.RPID, "rpId must come from the portal origin, not the provider")
	require.Equal(t, "webauthn.get", ch.Type)
	require.Equal(t, "preferred", ch.UserVerification)
	require.Equal(t, "webauthn-passwordless", gotForm["acr_values"])
	require.Equal(t, "citizen@example.pk", gotForm["username"])
	require.Equal(t, "portal-web", gotForm["client_id"])
}

func TestBeginAuthenticationNoChallenge(t *testing.T) {
	t.Parallel()
	b, _ := newBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>Invalid user</html>`))
	}))

	_, err := b.BeginAuthentication(context.Background(), "ghost", "https://portal.example.pk")
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestBeginAuthenticationBadOrigin(t *testing.T) {
	t.Parallel()
	b, _ := newBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	_, err := b.BeginAuthentication(context.Background(), "u", "not a url")
	require.Error(t, err)
}

func TestBeginRegistration(t *testing.T) {
	t.Parallel()
	b, _ := newBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/realms/citizens/protocol/openid-connect/ws/register", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "citizen@example.pk", body["username"])
		require.Equal(t, "platform", body["authenticatorAttachment"])
		require.Equal(t, true, body["requireResidentKey"])
		require.Equal(t, "none", body["attestation"])
		w.Write([]byte(`{"challenge":"abc","rp":{"id":"idp.example"}}`))
	}))

	out, err := b.BeginRegistration(context.Background(), "citizen@example.pk")
	require.NoError(t, err)
	require.JSONEq(t, `{"challenge":"abc","rp":{"id":"idp.example"}}`, string(out))

	_, err = b.BeginRegistration(context.Background(), "  ")
	require.ErrorIs(t, err, ErrMissingUsername)
}

func TestFinishRegistrationValidation(t *testing.T) {
	t.Parallel()
	called := false
	b, _ := newBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{}`))
	}))
	ctx := context.Background()

	_, err := b.FinishRegistration(ctx, "u", nil)
	require.ErrorIs(t, err, ErrIncompleteCredential)

	_, err = b.FinishRegistration(ctx, "u", &Credential{ID: "cred-1"})
	require.ErrorIs(t, err, ErrIncompleteCredential)

	_, err = b.FinishRegistration(ctx, "u", &Credential{
		ID:             "cred-1",
		ClientDataJSON: "e30",
	})
	require.ErrorIs(t, err, ErrIncompleteCredential)

	// Attestation object alone is not enough either; the authenticator
	// data must travel with it.
	_, err = b.FinishRegistration(ctx, "u", &Credential{
		ID:                "cred-1",
		ClientDataJSON:    "e30",
		AttestationObject: "o2Nm",
	})
	require.ErrorIs(t, err, ErrIncompleteCredential)
	require.False(t, called, "incomplete credential must never reach the provider")

	_, err = b.FinishRegistration(ctx, "u", &Credential{
		ID:                "cred-1",
		ClientDataJSON:    "e30",
		AttestationObject: "o2Nm",
		AuthenticatorData: "SZYN",
	})
	require.NoError(t, err)
	require.True(t, called)
}

func TestFinishRegistrationNestedResponseFields(t *testing.T) {
	t.Parallel()
	b, _ := newBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	cred := &Credential{
		ID:       "cred-1",
		Response: json.RawMessage(`{"clientDataJSON":"e30","attestationObject":"o2Nm","authenticatorData":"SZYN"}`),
	}
	_, err := b.FinishRegistration(context.Background(), "u", cred)
	require.NoError(t, err)

	cred.Response = json.RawMessage(`{"clientDataJSON":"e30","attestationObject":"o2Nm"}`)
	_, err = b.FinishRegistration(context.Background(), "u", cred)
	require.ErrorIs(t, err, ErrIncompleteCredential)
}

func TestFinishAuthenticationIssuesTokens(t *testing.T) {
	t.Parallel()
	b, _ := newBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/realms/citizens/protocol/openid-connect/authenticate/finish":
			w.Write([]byte(`{"status":"ok"}`))
		case "/realms/citizens/protocol/openid-connect/token":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "password", r.PostFormValue("grant_type"))
			require.Equal(t, "citizen@example.pk", r.PostFormValue("username"))
			require.Empty(t, r.PostForm["password"], "passkey issuance must not carry a password field")
			w.Write([]byte(`{"access_token":"AT","id_token":"IT","token_type":"Bearer","expires_in":300}`))
		default:
			t.Errorf("unexpected call to %s", r.URL.Path)
		}
	}))

	tr, err := b.FinishAuthentication(context.Background(), "citizen@example.pk", &Credential{ID: "cred-1"})
	require.NoError(t, err)
	require.Equal(t, "AT", tr.AccessToken)
}

func TestFinishAuthenticationRejected(t *testing.T) {
	t.Parallel()
	b, _ := newBroker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "assertion invalid", http.StatusBadRequest)
	}))

	_, err := b.FinishAuthentication(context.Background(), "u", &Credential{ID: "cred-1"})
	require.ErrorIs(t, err, ErrCeremonyRejected)
}
