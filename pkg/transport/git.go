package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/wire"
)

// GitSession is an authenticated connection with the git sub-protocol
// selected via multistream, ready to carry the git smart-protocol v2
// exchange spec.md §4.9 names — path field set to the URN, host field
// set to the responder's PeerId. No packetline/packfile codec runs over
// it in this module: replication's WireSource uses Host streams
// instead. GitSession's job ends at "authenticated stream, correct
// sub-protocol selected."
type GitSession struct {
	conn *tls.Conn
	r    *bufio.Reader
	URL  RadURL
	Peer peerid.PeerId
}

// Dial opens a TLS connection to the first reachable address hint in
// url, verifies the remote's certificate-bound PeerId matches
// url.RemotePeer (spec.md §6), and selects the git sub-protocol.
func Dial(ctx context.Context, url RadURL, local tls.Certificate) (*GitSession, error) {
	if len(url.AddrHints) == 0 {
		return nil, &Error{Kind: KindProtocolViolation, Op: "dial", Err: fmt.Errorf("no address hints")}
	}
	var lastErr error
	dialer := &net.Dialer{}
	for _, addr := range url.AddrHints {
		raw, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		tlsConn := tls.Client(raw, Config(local, url.RemotePeer))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			tlsConn.Close()
			lastErr = &Error{Kind: KindCertificateMismatch, Op: "dial", Err: err}
			continue
		}
		if err := wire.SelectOutbound(tlsConn, wire.ProtocolGit); err != nil {
			return nil, &Error{Kind: KindUpgradeUnsupported, Op: "dial", Err: err}
		}
		return &GitSession{conn: tlsConn, r: bufio.NewReader(tlsConn), URL: url, Peer: url.RemotePeer}, nil
	}
	return nil, &Error{Kind: KindIo, Op: "dial", Err: fmt.Errorf("all address hints failed: %w", lastErr)}
}

// Accept completes the accepting side of a GitSession over a
// connection whose git sub-protocol has already been negotiated by
// the caller's wire.Multiplexer dispatch.
func Accept(conn *tls.Conn) (*GitSession, error) {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, &Error{Kind: KindCertificateMismatch, Op: "accept", Err: fmt.Errorf("no peer certificate")}
	}
	peer, err := PeerFromCertificate(state.PeerCertificates[0])
	if err != nil {
		return nil, err
	}
	return &GitSession{conn: conn, r: bufio.NewReader(conn), Peer: peer}, nil
}

// Reader returns a buffered reader over the connection, ready for
// packetline framing.
func (s *GitSession) Reader() *bufio.Reader { return s.r }

// Writer returns the underlying connection for writing packetlines.
func (s *GitSession) Writer() *tls.Conn { return s.conn }

// Close closes the underlying connection.
func (s *GitSession) Close() error { return s.conn.Close() }
