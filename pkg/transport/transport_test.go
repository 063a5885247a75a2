package transport

import (
	"crypto/x509"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/urn"
)

func newTestPeer(t *testing.T) (crypto.PrivKey, peerid.PeerId) {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peerid.FromPrivateKey(priv)
	if err != nil {
		t.Fatalf("peerid from key: %v", err)
	}
	return priv, id
}

func testRepoURN(t *testing.T) urn.Urn {
	t.Helper()
	root, err := oid.Of(oid.KindCommit, []byte("project-root"))
	if err != nil {
		t.Fatalf("oid.Of: %v", err)
	}
	u, err := urn.New(root, "")
	if err != nil {
		t.Fatalf("urn.New: %v", err)
	}
	return u
}

func TestRadURLRoundTrip(t *testing.T) {
	_, local := newTestPeer(t)
	_, remote := newTestPeer(t)
	repo := testRepoURN(t)

	built := Build(local, remote, repo, []string{"192.168.1.1:9000", "10.0.0.1:9001"})
	parsed, err := Parse(built.String())
	if err != nil {
		t.Fatalf("parse %q: %v", built.String(), err)
	}

	if !parsed.LocalPeer.Equal(built.LocalPeer) {
		t.Errorf("local peer mismatch: got %s want %s", parsed.LocalPeer, built.LocalPeer)
	}
	if !parsed.RemotePeer.Equal(built.RemotePeer) {
		t.Errorf("remote peer mismatch: got %s want %s", parsed.RemotePeer, built.RemotePeer)
	}
	if !parsed.Repo.Equal(built.Repo) {
		t.Errorf("repo urn mismatch: got %s want %s", parsed.Repo, built.Repo)
	}
	if len(parsed.AddrHints) != 2 {
		t.Fatalf("addr hints: got %v", parsed.AddrHints)
	}
	if parsed.Nonce != built.Nonce {
		t.Errorf("nonce mismatch: got %s want %s", parsed.Nonce, built.Nonce)
	}
}

func TestParseRejectsWrongScheme(t *testing.T) {
	_, err := Parse("https://a@b/c.git")
	if err == nil {
		t.Fatal("expected error for wrong scheme")
	}
	var terr *Error
	if !errorsAs(err, &terr) || terr.Kind != KindProtocolViolation {
		t.Fatalf("expected KindProtocolViolation, got %v", err)
	}
}

func TestCertificateBindsCommonNameToPeerId(t *testing.T) {
	priv, id := newTestPeer(t)
	cert, err := Certificate(priv)
	if err != nil {
		t.Fatalf("Certificate: %v", err)
	}
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse der: %v", err)
	}
	got, err := PeerFromCertificate(parsed)
	if err != nil {
		t.Fatalf("PeerFromCertificate: %v", err)
	}
	if !got.Equal(id) {
		t.Errorf("certificate peerid mismatch: got %s want %s", got, id)
	}
}

func TestVerifyPeerCertificateRejectsMismatchedExpectation(t *testing.T) {
	priv, _ := newTestPeer(t)
	cert, err := Certificate(priv)
	if err != nil {
		t.Fatalf("Certificate: %v", err)
	}
	_, other := newTestPeer(t)
	err = verifyPeerCertificate(cert.Certificate, other)
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	var terr *Error
	if !errorsAs(err, &terr) || terr.Kind != KindCertificateMismatch {
		t.Fatalf("expected KindCertificateMismatch, got %v", err)
	}
}

func TestVerifyPeerCertificateAcceptsMatchingExpectation(t *testing.T) {
	priv, id := newTestPeer(t)
	cert, err := Certificate(priv)
	if err != nil {
		t.Fatalf("Certificate: %v", err)
	}
	if err := verifyPeerCertificate(cert.Certificate, id); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

// errorsAs is a tiny local helper so this file doesn't need to import
// "errors" just for the one pattern every test here uses.
func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
