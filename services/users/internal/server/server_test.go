package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"securechat/pkg/auth"
	"securechat/pkg/domain"
	"securechat/pkg/store"
	"securechat/services/users/internal/app"
)

const token = "internal-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	core, err := app.New(app.Config{
		Store: store.NewMemoryStore(),
		GenerateKeys: func(int) (auth.KeyPair, error) {
			return auth.KeyPair{PrivatePEM: "PRIVATE", PublicPEM: "PUBLIC"}, nil
		},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: core, InternalToken: token}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, method, url, tok string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req, _ := http.NewRequest(method, url, &body)
	if tok != "" {
		req.Header.Set(InternalTokenHeader, tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestInternalTokenRequired(t *testing.T) {
	srv := newTestServer(t)
	for _, tok := range []string{"", "wrong"} {
		resp, _ := call(t, http.MethodGet, srv.URL+"/users/alice", tok, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: status = %d, want 401", tok, resp.StatusCode)
		}
	}
	resp, _ := call(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestUserLifecycle(t *testing.T) {
	srv := newTestServer(t)
	newUser := map[string]string{"name": "Alice", "username": "alice", "email": "a@example.com", "password": "password1"}

	resp, body := call(t, http.MethodPost, srv.URL+"/users/create", token, newUser)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %s", resp.StatusCode, body)
	}
	resp, _ = call(t, http.MethodPost, srv.URL+"/users/create", token, newUser)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create = %d, want 409", resp.StatusCode)
	}

	resp, body = call(t, http.MethodGet, srv.URL+"/users/alice", token, nil)
	var profile domain.Profile
	_ = json.Unmarshal(body, &profile)
	if resp.StatusCode != http.StatusOK || profile.PublicKey != "PUBLIC" || profile.Email != "a@example.com" {
		t.Fatalf("get = %d %+v", resp.StatusCode, profile)
	}
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	if _, leaked := raw["private_key"]; leaked {
		t.Fatal("profile must not expose the private key")
	}

	resp, body = call(t, http.MethodPut, srv.URL+"/users/alice", token, map[string]any{"contacts": []string{"bob"}})
	_ = json.Unmarshal(body, &profile)
	if resp.StatusCode != http.StatusOK || len(profile.Contacts) != 1 || profile.Contacts[0] != "bob" {
		t.Fatalf("update = %d %+v", resp.StatusCode, profile)
	}

	resp, body = call(t, http.MethodPost, srv.URL+"/users/validate", token, map[string]string{"username": "alice", "password": "password1"})
	var creds domain.Credentials
	_ = json.Unmarshal(body, &creds)
	if resp.StatusCode != http.StatusOK || !creds.OK || creds.PrivateKey != "PRIVATE" {
		t.Fatalf("validate = %d %+v", resp.StatusCode, creds)
	}
	resp, _ = call(t, http.MethodPost, srv.URL+"/users/validate", token, map[string]string{"username": "alice", "password": "nope-nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad validate = %d, want 401", resp.StatusCode)
	}

	resp, body = call(t, http.MethodDelete, srv.URL+"/users/alice", token, nil)
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte(`"deleted"`)) {
		t.Fatalf("delete = %d %s", resp.StatusCode, body)
	}
	resp, _ = call(t, http.MethodGet, srv.URL+"/users/alice", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted = %d, want 404", resp.StatusCode)
	}
}

func TestCreateValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := call(t, http.MethodPost, srv.URL+"/users/create", token, map[string]string{"username": "bob", "email": "b@example.com", "password": "short"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short password = %d, want 400", resp.StatusCode)
	}
	resp, _ = call(t, http.MethodGet, srv.URL+"/users/create", token, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /users/create = %d, want 405", resp.StatusCode)
	}
}
