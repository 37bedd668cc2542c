package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"collabform/api/internal/store"
)

func startHTTPServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := newTestService(t, newFakeStore())
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func registerAndLogin(t *testing.T, server *httptest.Server, username, role string) string {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/auth/register", "", map[string]any{
		"username": username,
		"password": "correct horse",
		"role":     role,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/login", "", map[string]any{
		"username": username,
		"password": "correct horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d body %v", username, resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("login %s: no token in %v", username, body)
	}
	return token
}

func TestCreateAndJoinFormOverHTTP(t *testing.T) {
	server := startHTTPServer(t)
	adminToken := registerAndLogin(t, server, "root", "admin")
	userToken := registerAndLogin(t, server, "sam", "user")

	resp, created := doJSON(t, http.MethodPost, server.URL+"/api/forms", adminToken, map[string]any{
		"name": "Trip signup",
		"fields": []store.FieldSpec{
			{Name: "age", Label: "Age", Kind: store.FieldKindNumber},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create form: status %d body %v", resp.StatusCode, created)
	}
	shareCode, _ := created["shareCode"].(string)
	if shareCode == "" {
		t.Fatalf("create form: no shareCode in %v", created)
	}

	resp, joined := doJSON(t, http.MethodGet, server.URL+"/api/forms/join/"+shareCode, userToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join form: status %d body %v", resp.StatusCode, joined)
	}
	if _, ok := joined["form"]; !ok {
		t.Errorf("join response missing form: %v", joined)
	}
	if _, ok := joined["response"]; !ok {
		t.Errorf("join response missing response document: %v", joined)
	}
}

func TestFormRoutesRequireAuth(t *testing.T) {
	server := startHTTPServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/forms", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["code"] != "UNAUTHORIZED" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateFormForbiddenForUserRole(t *testing.T) {
	server := startHTTPServer(t)
	userToken := registerAndLogin(t, server, "sam", "user")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/forms", userToken, map[string]any{
		"name": "Nope",
		"fields": []store.FieldSpec{
			{Name: "age", Label: "Age", Kind: store.FieldKindNumber},
		},
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d body %v, want 403", resp.StatusCode, body)
	}
}

func TestRegisterConflictOverHTTP(t *testing.T) {
	server := startHTTPServer(t)
	registerAndLogin(t, server, "sam", "user")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/register", "", map[string]any{
		"username": "sam",
		"password": "correct horse",
		"role":     "user",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d body %v, want 409", resp.StatusCode, body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startHTTPServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}
