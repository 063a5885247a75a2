package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/sourcemesh/meshd/pkg/peerid"
)

// certLifetime is generous since the certificate is never validated
// against a CA chain, only against the PeerId its CN encodes; it is
// reissued whenever the process restarts, the same way the teacher
// reloads its libp2p identity from disk at startup.
const certLifetime = 100 * 365 * 24 * time.Hour

// Certificate builds a self-signed X.509 certificate whose common name
// is the canonical textual PeerId of priv's owner (spec.md §6
// "Transport identity"). The private key backing it must be Ed25519,
// the only key type peerid.PeerId accepts.
func Certificate(priv libp2pcrypto.PrivKey) (tls.Certificate, error) {
	id, err := peerid.FromPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: derive peerid: %w", err)
	}
	raw, err := priv.Raw()
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: extract ed25519 key: %w", err)
	}
	edPriv := ed25519.PrivateKey(raw)

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: generate serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: id.String()},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(certLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, edPriv.Public(), edPriv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: create certificate: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  edPriv,
		Leaf:        tmpl,
	}, nil
}

// PeerFromCertificate extracts the PeerId a peer certificate's common
// name encodes. It does not itself prove anything about the
// certificate's authenticity — the caller must have verified the TLS
// handshake's self-signature, which Config's VerifyPeerCertificate
// hook does.
func PeerFromCertificate(cert *x509.Certificate) (peerid.PeerId, error) {
	id, err := peerid.Parse(cert.Subject.CommonName)
	if err != nil {
		return peerid.PeerId{}, &Error{Kind: KindCertificateMismatch, Op: "peer-from-certificate", Err: err}
	}
	return id, nil
}

// Config builds a mutually-authenticating tls.Config for a session
// with a known expected remote PeerId. Since peer certificates are
// self-signed (there is no CA), verification is done entirely by
// VerifyPeerCertificate: the presented certificate must self-verify
// and its CN must equal expected's canonical textual form
// (spec.md §6: "the peer-id extracted from the certificate must equal
// the PeerId in the URL").
func Config(local tls.Certificate, expected peerid.PeerId) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{local},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyPeerCertificate(rawCerts, expected)
		},
	}
}

// ListenConfig builds a tls.Config for the accepting side of a
// connection, which does not yet know which remote PeerId to expect —
// any self-signed certificate whose CN parses as a valid PeerId is
// accepted at the TLS layer; the caller is responsible for checking
// the accepted PeerId against whatever authorization policy applies
// once the upgrade tag and protocol payload are available.
func ListenConfig(local tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{local},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyPeerCertificate(rawCerts, peerid.PeerId{})
		},
	}
}

func verifyPeerCertificate(rawCerts [][]byte, expected peerid.PeerId) error {
	if len(rawCerts) == 0 {
		return &Error{Kind: KindCertificateMismatch, Op: "verify", Err: fmt.Errorf("no certificate presented")}
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return &Error{Kind: KindCertificateMismatch, Op: "verify", Err: err}
	}
	// Self-signed: the certificate must verify against its own public key.
	if err := cert.CheckSignatureFrom(cert); err != nil {
		return &Error{Kind: KindCertificateMismatch, Op: "verify", Err: fmt.Errorf("not self-signed: %w", err)}
	}
	got, err := PeerFromCertificate(cert)
	if err != nil {
		return err
	}
	if !expected.IsZero() && !got.Equal(expected) {
		return &Error{Kind: KindCertificateMismatch, Op: "verify",
			Err: fmt.Errorf("certificate peerid %s does not match expected %s", got, expected)}
	}
	return nil
}
