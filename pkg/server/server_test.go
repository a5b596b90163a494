package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnohosten/versa-db/pkg/auth"
)

func newTestServer(t *testing.T, authManager *auth.Manager) *httptest.Server {
	t.Helper()
	config := DefaultConfig()
	config.EnableLogging = false
	srv, err := New(config, authManager)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type envelope struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func doJSON(t *testing.T, method, url string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return resp.StatusCode, env
}

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func beginTxn(t *testing.T, base string, body interface{}) uint64 {
	t.Helper()
	code, env := doJSON(t, http.MethodPost, base+"/txn", body)
	if code != http.StatusOK || !env.OK {
		t.Fatalf("begin = %d %+v", code, env)
	}
	var result struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return result.ID
}

func TestHealthAndStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	code, env := doJSON(t, http.MethodGet, ts.URL+"/_health", nil)
	if code != http.StatusOK || !env.OK {
		t.Fatalf("health = %d %+v", code, env)
	}

	code, env = doJSON(t, http.MethodGet, ts.URL+"/_status", nil)
	if code != http.StatusOK || !env.OK {
		t.Fatalf("status = %d %+v", code, env)
	}
	var status struct {
		Txns       uint64 `json:"txns"`
		TxnsActive uint64 `json:"txns_active"`
	}
	if err := json.Unmarshal(env.Result, &status); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if status.Txns != 0 || status.TxnsActive != 0 {
		t.Errorf("fresh status = %+v, want zeros", status)
	}
}

func TestTxnLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	id := beginTxn(t, ts.URL, nil)
	if id != 1 {
		t.Errorf("first txn id = %d, want 1", id)
	}

	// Write a key and read it back inside the transaction.
	url := fmt.Sprintf("%s/txn/%d/keys/%s", ts.URL, id, b64("greeting"))
	code, env := doJSON(t, http.MethodPut, url, valueRequest{Value: b64("hello")})
	if code != http.StatusOK || !env.OK {
		t.Fatalf("set = %d %+v", code, env)
	}

	code, env = doJSON(t, http.MethodGet, url, nil)
	if code != http.StatusOK {
		t.Fatalf("get = %d %+v", code, env)
	}
	var result struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if result.Value != b64("hello") {
		t.Errorf("value = %q, want %q", result.Value, b64("hello"))
	}

	code, env = doJSON(t, http.MethodPost, fmt.Sprintf("%s/txn/%d/commit", ts.URL, id), nil)
	if code != http.StatusOK || !env.OK {
		t.Fatalf("commit = %d %+v", code, env)
	}

	// The committed transaction cannot be resumed.
	code, env = doJSON(t, http.MethodGet, url, nil)
	if code != http.StatusNotFound {
		t.Errorf("get after commit = %d %+v, want 404", code, env)
	}

	// A new transaction sees the committed value.
	id2 := beginTxn(t, ts.URL, nil)
	code, env = doJSON(t, http.MethodGet, fmt.Sprintf("%s/txn/%d/keys/%s", ts.URL, id2, b64("greeting")), nil)
	if code != http.StatusOK {
		t.Fatalf("get in new txn = %d %+v", code, env)
	}
}

func TestConflictMapsTo409(t *testing.T) {
	ts := newTestServer(t, nil)

	t1 := beginTxn(t, ts.URL, nil)
	t2 := beginTxn(t, ts.URL, nil)

	url1 := fmt.Sprintf("%s/txn/%d/keys/%s", ts.URL, t1, b64("k"))
	url2 := fmt.Sprintf("%s/txn/%d/keys/%s", ts.URL, t2, b64("k"))

	if code, env := doJSON(t, http.MethodPut, url1, valueRequest{Value: b64("v1")}); code != http.StatusOK {
		t.Fatalf("first write = %d %+v", code, env)
	}
	code, env := doJSON(t, http.MethodPut, url2, valueRequest{Value: b64("v2")})
	if code != http.StatusConflict || env.Error != "Serialization" {
		t.Errorf("conflicting write = %d %+v, want 409 Serialization", code, env)
	}
}

func TestReadOnlyMapsTo403(t *testing.T) {
	ts := newTestServer(t, nil)

	id := beginTxn(t, ts.URL, beginRequest{Mode: "read-only"})
	url := fmt.Sprintf("%s/txn/%d/keys/%s", ts.URL, id, b64("k"))
	code, env := doJSON(t, http.MethodPut, url, valueRequest{Value: b64("v")})
	if code != http.StatusForbidden || env.Error != "ReadOnly" {
		t.Errorf("write under read-only = %d %+v, want 403 ReadOnly", code, env)
	}
}

func TestSnapshotMode(t *testing.T) {
	ts := newTestServer(t, nil)

	// Two committed versions.
	for _, v := range []string{"one", "two"} {
		id := beginTxn(t, ts.URL, nil)
		url := fmt.Sprintf("%s/txn/%d/keys/%s", ts.URL, id, b64("k"))
		if code, env := doJSON(t, http.MethodPut, url, valueRequest{Value: b64(v)}); code != http.StatusOK {
			t.Fatalf("set = %d %+v", code, env)
		}
		if code, env := doJSON(t, http.MethodPost, fmt.Sprintf("%s/txn/%d/commit", ts.URL, id), nil); code != http.StatusOK {
			t.Fatalf("commit = %d %+v", code, env)
		}
	}

	id := beginTxn(t, ts.URL, beginRequest{Mode: "snapshot", Version: 1})
	code, env := doJSON(t, http.MethodGet, fmt.Sprintf("%s/txn/%d/keys/%s", ts.URL, id, b64("k")), nil)
	if code != http.StatusOK {
		t.Fatalf("historical get = %d %+v", code, env)
	}
	var result struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if result.Value != b64("one") {
		t.Errorf("historical value = %q, want %q", result.Value, b64("one"))
	}

	// A version that never existed is a 404.
	code, env = doJSON(t, http.MethodPost, ts.URL+"/txn", beginRequest{Mode: "snapshot", Version: 99})
	if code != http.StatusNotFound || env.Error != "Value" {
		t.Errorf("unknown snapshot = %d %+v, want 404 Value", code, env)
	}
}

func TestScanEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	id := beginTxn(t, ts.URL, nil)
	for _, kv := range [][2]string{{"a", "1"}, {"ab", "2"}, {"b", "3"}} {
		url := fmt.Sprintf("%s/txn/%d/keys/%s", ts.URL, id, b64(kv[0]))
		if code, env := doJSON(t, http.MethodPut, url, valueRequest{Value: b64(kv[1])}); code != http.StatusOK {
			t.Fatalf("set = %d %+v", code, env)
		}
	}
	if code, env := doJSON(t, http.MethodPost, fmt.Sprintf("%s/txn/%d/commit", ts.URL, id), nil); code != http.StatusOK {
		t.Fatalf("commit = %d %+v", code, env)
	}

	id = beginTxn(t, ts.URL, nil)

	var result struct {
		Pairs []pairResponse `json:"pairs"`
	}

	// Prefix scan.
	code, env := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/txn/%d/scan?prefix=%s", ts.URL, id, b64("a")), nil)
	if code != http.StatusOK {
		t.Fatalf("prefix scan = %d %+v", code, env)
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(result.Pairs) != 2 || result.Pairs[0].Key != b64("a") || result.Pairs[1].Key != b64("ab") {
		t.Errorf("prefix scan pairs = %+v", result.Pairs)
	}

	// Reverse full scan with limit.
	code, env = doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/txn/%d/scan?reverse=true&limit=2", ts.URL, id), nil)
	if code != http.StatusOK {
		t.Fatalf("reverse scan = %d %+v", code, env)
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(result.Pairs) != 2 || result.Pairs[0].Key != b64("b") || result.Pairs[1].Key != b64("ab") {
		t.Errorf("reverse scan pairs = %+v", result.Pairs)
	}
}

func TestMetadataEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	url := ts.URL + "/metadata/" + b64("config")
	if code, env := doJSON(t, http.MethodPut, url, valueRequest{Value: b64("v1")}); code != http.StatusOK {
		t.Fatalf("set metadata = %d %+v", code, env)
	}

	code, env := doJSON(t, http.MethodGet, url, nil)
	if code != http.StatusOK {
		t.Fatalf("get metadata = %d %+v", code, env)
	}

	code, _ = doJSON(t, http.MethodGet, ts.URL+"/metadata/"+b64("absent"), nil)
	if code != http.StatusNotFound {
		t.Errorf("absent metadata = %d, want 404", code)
	}
}

func TestAuthProtectedServer(t *testing.T) {
	manager := auth.NewManager()
	if err := manager.CreateUser("reader", "secret", auth.RoleRead); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := manager.CreateUser("writer", "secret", auth.RoleReadWrite); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	ts := newTestServer(t, manager)

	// Anonymous requests are rejected.
	resp, err := http.Get(ts.URL + "/_health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous = %d, want 401", resp.StatusCode)
	}

	do := func(user, method, url string, body []byte) int {
		req, _ := http.NewRequest(method, url, bytes.NewReader(body))
		req.SetBasicAuth(user, "secret")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}

	if code := do("reader", http.MethodGet, ts.URL+"/_health", nil); code != http.StatusOK {
		t.Errorf("reader health = %d, want 200", code)
	}

	// A reader can begin a transaction but not write through it.
	if code := do("reader", http.MethodPost, ts.URL+"/txn", nil); code != http.StatusOK {
		t.Errorf("reader begin = %d, want 200", code)
	}
	body, _ := json.Marshal(valueRequest{Value: b64("v")})
	url := fmt.Sprintf("%s/txn/1/keys/%s", ts.URL, b64("k"))
	if code := do("reader", http.MethodPut, url, body); code != http.StatusForbidden {
		t.Errorf("reader write = %d, want 403", code)
	}
	if code := do("writer", http.MethodPut, url, body); code != http.StatusOK {
		t.Errorf("writer write = %d, want 200", code)
	}
}
