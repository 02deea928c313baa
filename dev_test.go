package memberid

import (
	"context"
	"testing"
	"time"
)

func TestDevVerifier(t *testing.T) {
	dev := NewDevVerifier(Claims{GivenName: "Grace", Groups: []string{"vorstand"}}, "")

	claims, err := dev.Verify(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "dev-bypass" || claims.PreferredUsername != "dev-bypass" || claims.GivenName != "Grace" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.HasGroup(defaultMembershipGroup) || !claims.HasGroup("vorstand") {
		t.Fatalf("expected membership group to be added: %v", claims.Groups)
	}

	claims.Groups[0] = "mutated"
	again, err := dev.Verify(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if again.Groups[0] != "vorstand" {
		t.Fatal("returned claims must not alias the verifier's state")
	}

	_, err = dev.Verify(context.Background(), "")
	assertCode(t, err, ErrCodeHeader)
}

func TestDevVerifier_DrivesIssuer(t *testing.T) {
	now := time.Unix(1700000000, 0)
	issuer, _, _ := newTestIssuer(t, "http://unused.invalid", now, WithVerifier(NewDevVerifier(Claims{}, "")))

	cred, err := issuer.IssueApp(context.Background(), "dev")
	if err != nil {
		t.Fatalf("IssueApp: %v", err)
	}
	scanner := newTestScanVerifier(t, ScanOptions{})
	scanner.now = func() time.Time { return now }
	res, err := scanner.Verify(cred.QR)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Payload.Subject != "dev-bypass" || res.Payload.Name != "Dev" {
		t.Fatalf("unexpected payload: %+v", res.Payload)
	}
}
