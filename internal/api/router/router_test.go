package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/remiblancher/encrypto/internal/api/dto"
	"github.com/remiblancher/encrypto/internal/instrument"
	"github.com/remiblancher/encrypto/internal/keyring"
	"github.com/remiblancher/encrypto/internal/native"
	"github.com/remiblancher/encrypto/pkg/qpgp"
)

type testEnv struct {
	backend *native.Backend
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	b := native.New(native.NameNative, keyring.NewFileStore(t.TempDir()), native.Options{
		KDF: native.KDFParams{Time: 1, Memory: 64, Threads: 1},
	})
	m := instrument.NewMetrics()
	return &testEnv{
		backend: b,
		handler: New(&Config{
			Version: "test",
			Backend: instrument.Wrap(b, nil, m),
			Metrics: m.Handler(),
		}),
	}
}

func (e *testEnv) genKey(t *testing.T, uid string, policy qpgp.PqcPolicy) qpgp.KeyMeta {
	t.Helper()
	meta, err := e.backend.GenerateKey(context.Background(), qpgp.KeyGenParams{
		UserID:           qpgp.UserID(uid),
		PqcPolicy:        policy,
		AllowUnprotected: true,
	})
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return meta
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return v
}

func b64(s string) dto.BinaryData {
	return dto.BinaryData{Data: base64.StdEncoding.EncodeToString([]byte(s))}
}

// =============================================================================
// Health Tests
// =============================================================================

func TestF_Health(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	h := decode[dto.HealthResponse](t, rec)
	if h.Status != "ok" || h.Backend != native.NameNative || h.Version != "test" {
		t.Errorf("health = %+v", h)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	rec = env.do(t, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK || !decode[dto.ReadyResponse](t, rec).Ready {
		t.Errorf("ready = %d %s", rec.Code, rec.Body.String())
	}
}

func TestF_Metrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/keys", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "encrypto_operations_total") {
		t.Errorf("metrics = %d %s", rec.Code, rec.Body.String())
	}
}

func TestF_OpenAPI(t *testing.T) {
	rec := newTestEnv(t).do(t, http.MethodGet, "/api/openapi.yaml", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/api/v1/encrypt") {
		t.Errorf("openapi = %d", rec.Code)
	}
}

// =============================================================================
// Key Tests
// =============================================================================

func TestF_Keys_ListAndGet(t *testing.T) {
	env := newTestEnv(t)
	key := env.genKey(t, "Alice <alice@example.org>", qpgp.PolicyRequired)

	rec := env.do(t, http.MethodGet, "/api/v1/keys", nil)
	list := decode[dto.KeyListResponse](t, rec)
	if list.Total != 1 || list.Keys[0].Fingerprint != key.KeyID.String() || !list.Keys[0].HasSecret {
		t.Errorf("list = %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/keys/"+strings.ToLower(key.KeyID.String()), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[dto.KeyExportResponse](t, rec)
	if got.Key.UserID != "Alice <alice@example.org>" || got.Certificate.Encoding != dto.EncodingArmor {
		t.Errorf("get = %+v", got.Key)
	}
	if !strings.HasPrefix(got.Certificate.Data, "-----BEGIN PGP PUBLIC KEY BLOCK-----") {
		t.Error("certificate is not an armored public key")
	}
}

func TestF_Keys_GetErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/keys/ABCD", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short fingerprint status = %d", rec.Code)
	}
	apiErr := decode[dto.APIError](t, rec)
	if apiErr.Message != "fingerprint must be 40 or 64 hex characters" {
		t.Errorf("message = %q", apiErr.Message)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/keys/"+strings.Repeat("AB", 32), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown key status = %d", rec.Code)
	}
}

func TestF_Keys_Import(t *testing.T) {
	src := newTestEnv(t)
	key := src.genKey(t, "Bob <bob@example.org>", qpgp.PolicyRequired)
	pub, err := src.backend.ExportKey(context.Background(), key.KeyID, false, true)
	if err != nil {
		t.Fatal(err)
	}
	sec, err := src.backend.ExportKey(context.Background(), key.KeyID, true, true)
	if err != nil {
		t.Fatal(err)
	}

	dst := newTestEnv(t)
	rec := dst.do(t, http.MethodPost, "/api/v1/keys/import", dto.KeyImportRequest{Key: dto.NewBinaryData(sec, true)})
	if rec.Code != http.StatusForbidden {
		t.Errorf("secret import status = %d", rec.Code)
	}

	rec = dst.do(t, http.MethodPost, "/api/v1/keys/import", dto.KeyImportRequest{Key: dto.NewBinaryData(pub, true)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("import status = %d: %s", rec.Code, rec.Body.String())
	}
	info := decode[dto.KeyInfo](t, rec)
	if info.Fingerprint != key.KeyID.String() || info.HasSecret {
		t.Errorf("imported = %+v", info)
	}

	rec = dst.do(t, http.MethodPost, "/api/v1/keys/import", dto.KeyImportRequest{Key: b64("garbage")})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("garbage import status = %d", rec.Code)
	}
}

// =============================================================================
// Crypto Tests
// =============================================================================

func TestF_Encrypt(t *testing.T) {
	env := newTestEnv(t)
	key := env.genKey(t, "Carol <carol@example.org>", qpgp.PolicyRequired)

	rec := env.do(t, http.MethodPost, "/api/v1/encrypt", dto.EncryptRequest{
		Recipients: []string{key.KeyID.String()},
		Plaintext:  b64("attack at dawn"),
		Armor:      true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[dto.EncryptResponse](t, rec)
	ct, err := resp.Ciphertext.Decode()
	if err != nil {
		t.Fatal(err)
	}

	pt, err := env.backend.Decrypt(context.Background(), qpgp.DecryptRequest{Ciphertext: ct})
	if err != nil || string(pt) != "attack at dawn" {
		t.Errorf("Decrypt() = %q, %v", pt, err)
	}
}

func TestF_Encrypt_Errors(t *testing.T) {
	env := newTestEnv(t)
	classic := env.genKey(t, "Dave <dave@example.org>", qpgp.PolicyDisabled)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"short recipient", dto.EncryptRequest{Recipients: []string{"ABCDEF0123456789"}, Plaintext: b64("x")}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"no recipients", dto.EncryptRequest{Plaintext: b64("x")}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad policy", dto.EncryptRequest{Recipients: []string{classic.KeyID.String()}, Plaintext: b64("x"), PqcPolicy: "sometimes"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"classical recipient under required", dto.EncryptRequest{Recipients: []string{classic.KeyID.String()}, Plaintext: b64("x")}, http.StatusUnprocessableEntity, "POLICY_DENIED"},
		{"unknown field", map[string]any{"recipients": []string{}, "bogus": 1}, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/encrypt", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if got := decode[dto.APIError](t, rec); got.Code != tt.code {
				t.Errorf("code = %s, want %s", got.Code, tt.code)
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/api/v1/encrypt", dto.EncryptRequest{
		Recipients: []string{classic.KeyID.String()},
		Plaintext:  b64("x"),
		PqcPolicy:  "disabled",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("disabled policy status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestF_Verify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.genKey(t, "Erin <erin@example.org>", qpgp.PolicyRequired)
	other := env.genKey(t, "Frank <frank@example.org>", qpgp.PolicyRequired)

	sig, err := env.backend.Sign(ctx, qpgp.SignRequest{Signer: key.KeyID, Message: []byte("hello"), Armor: true})
	if err != nil {
		t.Fatal(err)
	}
	msg := b64("hello")

	rec := env.do(t, http.MethodPost, "/api/v1/verify", dto.VerifyRequest{
		Signer: key.KeyID.String(), Signature: dto.NewBinaryData(sig, true), Message: &msg,
	})
	res := decode[dto.VerifyResponse](t, rec)
	if rec.Code != http.StatusOK || !res.Valid || res.Signer != key.KeyID.String() {
		t.Errorf("verify = %d %+v", rec.Code, res)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/verify", dto.VerifyRequest{
		Signer: other.KeyID.String(), Signature: dto.NewBinaryData(sig, true), Message: &msg,
	})
	res = decode[dto.VerifyResponse](t, rec)
	if rec.Code != http.StatusOK || res.Valid || res.Signer != "" {
		t.Errorf("wrong signer verify = %d %+v", rec.Code, res)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/verify", dto.VerifyRequest{Signature: dto.NewBinaryData(sig, true), Message: &msg})
	if rec.Code != http.StatusBadRequest || decode[dto.APIError](t, rec).Message != "verify requires --signer" {
		t.Errorf("missing signer = %d %s", rec.Code, rec.Body.String())
	}
}

func TestF_Verify_Cleartext(t *testing.T) {
	env := newTestEnv(t)
	key := env.genKey(t, "Grace <grace@example.org>", qpgp.PolicyRequired)

	signed, err := env.backend.Sign(context.Background(), qpgp.SignRequest{Signer: key.KeyID, Message: []byte("line one\nline two\n"), Cleartext: true})
	if err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/verify", dto.VerifyRequest{
		Signer: key.KeyID.String(), Signature: dto.NewBinaryData(signed, true), Cleartext: true,
	})
	res := decode[dto.VerifyResponse](t, rec)
	if !res.Valid || res.Message == nil {
		t.Fatalf("verify = %+v", res)
	}
	msg, err := res.Message.Decode()
	if err != nil || string(msg) != "line one\nline two\n" {
		t.Errorf("message = %q, %v", msg, err)
	}
}

func TestF_Capabilities(t *testing.T) {
	rec := newTestEnv(t).do(t, http.MethodGet, "/api/v1/capabilities", nil)
	caps := decode[dto.CapabilitiesResponse](t, rec)
	if !caps.SupportsPQC || caps.Profile != qpgp.OpenPGPPQCDraft || len(caps.Suites) != 3 {
		t.Errorf("capabilities = %+v", caps)
	}
	if caps.Policies["encrypt"] != "required" {
		t.Errorf("policies = %v", caps.Policies)
	}
}
