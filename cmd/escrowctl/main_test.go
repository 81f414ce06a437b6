package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"escrowledger/crypto"
	"escrowledger/services/escrowd/auth"
)

var testSecret = strings.Repeat("x", 32)

func withSecret(t *testing.T, value string) {
	t.Helper()
	original := ctlSecret
	ctlSecret = func() (string, error) { return value, nil }
	t.Cleanup(func() { ctlSecret = original })
}

func TestUsageAndUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: escrowctl") {
		t.Fatalf("usage not printed: %q", stderr.String())
	}
	stderr.Reset()
	if code := run([]string{"frobnicate"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command: frobnicate") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestAddressPrintsBothForms(t *testing.T) {
	addr := [20]byte{0xaa, 0xbb}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"address", crypto.HexAddress(addr)}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), crypto.EncodeAddress(addr)) {
		t.Fatalf("bech32 form missing: %q", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"address", crypto.EncodeAddress(addr)}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), crypto.HexAddress(addr)) {
		t.Fatalf("hex form missing: %q", stdout.String())
	}

	if code := run([]string{"address", "garbage"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected invalid address to fail")
	}
}

func TestTokenVerifiesAgainstDaemon(t *testing.T) {
	withSecret(t, testSecret)
	now := time.Unix(1_700_000_000, 0)
	originalNow := ctlNow
	ctlNow = func() time.Time { return now }
	defer func() { ctlNow = originalNow }()

	subject := [20]byte{7}
	var stdout, stderr bytes.Buffer
	code := run([]string{"token", "-sub", crypto.EncodeAddress(subject), "-ttl", "10m"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}

	verifier, err := auth.NewVerifier(auth.Config{Secret: []byte(testSecret), Issuer: defaultIssuer, Audience: defaultAudience})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	verifier.SetNowFunc(func() time.Time { return now.Add(time.Minute) })
	caller, err := verifier.Verify(strings.TrimSpace(stdout.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if caller != subject {
		t.Fatalf("unexpected subject %x", caller)
	}
}

func TestTokenArgValidation(t *testing.T) {
	withSecret(t, testSecret)
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"missing_sub", []string{"token"}, "-sub is required"},
		{"bad_ttl", []string{"token", "-sub", crypto.HexAddress([20]byte{1}), "-ttl", "-1m"}, "-ttl must be positive"},
		{"bad_sub", []string{"token", "-sub", "nope"}, "Error:"},
		{"positional", []string{"token", "-sub", crypto.HexAddress([20]byte{1}), "extra"}, "unexpected positional"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tc.args, &stdout, &stderr); code != 1 {
				t.Fatalf("expected exit 1, got %d", code)
			}
			if !strings.Contains(stderr.String(), tc.want) {
				t.Fatalf("stderr %q does not contain %q", stderr.String(), tc.want)
			}
		})
	}
}

func TestJobFetchesFromDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"Unauthenticated","message":"bad token"}}`))
			return
		}
		switch r.URL.Path {
		case "/v1/jobs/7":
			_, _ = w.Write([]byte(`{"id":7,"status":"ongoing"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"JobNotFound","message":"escrow: job not found"}}`))
		}
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	if code := run([]string{"job", "-url", srv.URL + "/", "-token", "tok", "7"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"status": "ongoing"`) {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	stderr.Reset()
	if code := run([]string{"job", "-url", srv.URL, "-token", "tok", "8"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure for unknown job")
	}
	if !strings.Contains(stderr.String(), "JobNotFound") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}

	stderr.Reset()
	if code := run([]string{"job", "-url", srv.URL, "7"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected missing token failure")
	}
	if code := run([]string{"job", "-token", "tok", "x"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected invalid id failure")
	}
}
