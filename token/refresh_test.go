package token

import (
	"strings"
	"testing"
	"time"
)

func TestIssueRefreshMaterial(t *testing.T) {
	iss := newTestIssuer(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	plain, mat, err := iss.IssueRefresh("sess-1", now)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if !WellFormed(plain) {
		t.Fatalf("plaintext not well formed: %q", plain)
	}
	if mat.SessionID != "sess-1" || mat.ID == "" {
		t.Fatalf("unexpected material: %+v", mat)
	}
	if strings.Contains(mat.Digest, plain) || mat.LookupKey == plain {
		t.Fatal("derived values must not embed the plaintext")
	}
	if !mat.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", mat.ExpiresAt)
	}
	if mat.LookupKey != iss.LookupKey(plain) {
		t.Fatal("lookup key must be deterministic")
	}
	if !iss.VerifyRefresh(plain, mat.Digest) {
		t.Fatal("expected digest to verify")
	}
}

func TestVerifyRefreshRejects(t *testing.T) {
	iss := newTestIssuer(t)
	now := time.Now()
	plain, mat, _ := iss.IssueRefresh("sess-1", now)
	other, _, _ := iss.IssueRefresh("sess-1", now)

	if iss.VerifyRefresh(other, mat.Digest) {
		t.Fatal("foreign plaintext must not verify")
	}
	for _, digest := range []string{"", "s256", "md5$AAAA$BBBB", "s256$!!$BBBB", "s256$AAAA"} {
		if iss.VerifyRefresh(plain, digest) {
			t.Fatalf("malformed digest %q must not verify", digest)
		}
	}
}

func TestLookupKeyDependsOnSecret(t *testing.T) {
	a := newTestIssuer(t)
	cfg := testConfig(t)
	cfg.LookupSecret = []byte(strings.Repeat("z", 32))
	b, err := NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	if a.LookupKey("same") == b.LookupKey("same") {
		t.Fatal("lookup keys under different secrets must differ")
	}
}

func TestWellFormed(t *testing.T) {
	for _, s := range []string{"", "short", strings.Repeat("a", 42), strings.Repeat("!", 43)} {
		if WellFormed(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}
