package vault

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVault serves canned GET responses and records writes.
type fakeVault struct {
	mu     sync.Mutex
	reads  map[string]interface{}
	writes map[string]map[string]interface{}
}

func newFakeVault(t *testing.T) (*fakeVault, *Manager) {
	t.Helper()
	fv := &fakeVault{reads: map[string]interface{}{}, writes: map[string]map[string]interface{}{}}
	srv := httptest.NewServer(fv)
	t.Cleanup(srv.Close)

	m, err := New(srv.URL, "root")
	require.NoError(t, err)
	return fv, m
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("X-Vault-Token") != "root" {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
		return
	}

	switch r.Method {
	case http.MethodGet:
		body, ok := f.reads[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	case http.MethodPut, http.MethodPost:
		raw, _ := io.ReadAll(r.Body)
		payload := map[string]interface{}{}
		_ = json.Unmarshal(raw, &payload)
		f.writes[r.URL.Path] = payload
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeVault) written(path string) (map[string]interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.writes[path]
	return w, ok
}

func (f *fakeVault) wroteAny(paths ...string) bool {
	for _, p := range paths {
		if _, ok := f.written(p); ok {
			return true
		}
	}
	return false
}

func TestReconcile_EnablesAuthAndWritesConfig(t *testing.T) {
	fv, m := newFakeVault(t)
	fv.reads["/v1/sys/auth"] = map[string]interface{}{
		"data": map[string]interface{}{"token/": map[string]interface{}{"type": "token"}},
	}

	err := m.Reconcile(context.Background(), KubernetesAuthConfig{
		MountPath: "kubernetes",
		KubeHost:  "https://10.0.0.10:6443",
		KubeCA:    "PEM",
		Roles: []VaultKubeRole{{
			Name:                          "flux-system",
			BoundServiceAccountNames:      []string{"kustomize-controller"},
			BoundServiceAccountNamespaces: []string{"flux-system"},
			Policies:                      []string{"flux-system"},
			TTL:                           time.Hour,
		}},
	})
	require.NoError(t, err)

	enable, ok := fv.written("/v1/sys/auth/kubernetes")
	require.True(t, ok)
	assert.Equal(t, "kubernetes", enable["type"])

	conf, ok := fv.written("/v1/auth/kubernetes/config")
	require.True(t, ok)
	assert.Equal(t, "https://10.0.0.10:6443", conf["kubernetes_host"])
	assert.NotContains(t, conf, "token_reviewer_jwt")

	role, ok := fv.written("/v1/auth/kubernetes/role/flux-system")
	require.True(t, ok)
	assert.Equal(t, float64(3600), role["token_ttl"])
}

func TestReconcile_SkipsUnchanged(t *testing.T) {
	fv, m := newFakeVault(t)
	fv.reads["/v1/sys/auth"] = map[string]interface{}{
		"data": map[string]interface{}{"kubernetes/": map[string]interface{}{"type": "kubernetes"}},
	}
	fv.reads["/v1/auth/kubernetes/config"] = map[string]interface{}{
		"data": map[string]interface{}{
			"kubernetes_host":        "https://10.0.0.10:6443",
			"kubernetes_ca_cert":     "PEM",
			"disable_iss_validation": true,
		},
	}

	err := m.Reconcile(context.Background(), KubernetesAuthConfig{
		MountPath: "kubernetes",
		KubeHost:  "https://10.0.0.10:6443",
		KubeCA:    "PEM",
	})
	require.NoError(t, err)

	_, enabled := fv.written("/v1/sys/auth/kubernetes")
	assert.False(t, enabled)
	_, wrote := fv.written("/v1/auth/kubernetes/config")
	assert.False(t, wrote)
}

func TestReconcilePolicies(t *testing.T) {
	fv, m := newFakeVault(t)
	existing := map[string]interface{}{
		"data": map[string]interface{}{"name": "unchanged", "policy": `path "a" {}`, "rules": `path "a" {}`},
	}
	fv.reads["/v1/sys/policies/acl/unchanged"] = existing
	fv.reads["/v1/sys/policy/unchanged"] = existing

	err := m.ReconcilePolicies(context.Background(), []VaultPolicy{
		{Name: "unchanged", Policy: "path \"a\" {}\n"},
		{Name: "flux-system", Policy: `path "secret/*" { capabilities = ["read"] }`},
	})
	require.NoError(t, err)

	assert.False(t, fv.wroteAny("/v1/sys/policies/acl/unchanged", "/v1/sys/policy/unchanged"))
	assert.True(t, fv.wroteAny("/v1/sys/policies/acl/flux-system", "/v1/sys/policy/flux-system"))
}

func TestReadSecret(t *testing.T) {
	fv, m := newFakeVault(t)
	fv.reads["/v1/secret/data/clusters/edge-01"] = map[string]interface{}{
		"data": map[string]interface{}{
			"data":     map[string]interface{}{"GITHUB_TOKEN": "ghp_x", "port": 8200},
			"metadata": map[string]interface{}{"version": 3},
		},
	}

	values, err := m.ReadSecret(context.Background(), "secret/", "/clusters/edge-01")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"GITHUB_TOKEN": "ghp_x", "port": "8200"}, values)
}

func TestReadSecret_NotFound(t *testing.T) {
	_, m := newFakeVault(t)

	_, err := m.ReadSecret(context.Background(), "secret", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestContainsAll(t *testing.T) {
	existing := map[string]interface{}{"a": []interface{}{"x"}, "b": "y", "extra": 1}
	assert.True(t, containsAll(existing, map[string]interface{}{"a": []string{"x"}, "b": "y"}))
	assert.False(t, containsAll(existing, map[string]interface{}{"b": "z"}))
	assert.False(t, containsAll(existing, map[string]interface{}{"missing": "v"}))
}
