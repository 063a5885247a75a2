package transport

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/urn"
)

// Scheme is the URL scheme for the git replication transport
// (spec.md §6 "URL scheme for the git transport").
const Scheme = "rad"

// RadURL is the parsed form of
// rad://<local_peer>@<remote_peer>/<urn_id>.git?addr=<host:port>&addr=<host:port>&n=<nonce>
//
// The nonce disambiguates otherwise-identical URLs across repeated
// connection attempts against resolver caches; it carries no
// semantic weight beyond that. Every Build call mints a fresh one;
// Parse preserves the nonce of the URL it decodes.
type RadURL struct {
	LocalPeer  peerid.PeerId
	RemotePeer peerid.PeerId
	Repo       urn.Urn
	AddrHints  []string
	Nonce      uuid.UUID
}

// Build renders a RadURL with a freshly minted nonce.
func Build(local, remote peerid.PeerId, repo urn.Urn, addrHints []string) RadURL {
	return RadURL{
		LocalPeer:  local,
		RemotePeer: remote,
		Repo:       repo,
		AddrHints:  addrHints,
		Nonce:      uuid.New(),
	}
}

// String renders the canonical textual form.
func (u RadURL) String() string {
	raw := fmt.Sprintf("%s://%s@%s/%s.git", Scheme, u.LocalPeer, u.RemotePeer, url.PathEscape(u.Repo.String()))
	parsed, err := url.Parse(raw)
	if err != nil {
		// LocalPeer/RemotePeer/Repo are all produced by this package's
		// own String() methods and are never URL-hostile; unreachable.
		panic(fmt.Sprintf("transport: build malformed url: %v", err))
	}
	q := parsed.Query()
	for _, a := range u.AddrHints {
		q.Add("addr", a)
	}
	q.Set("n", u.Nonce.String())
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

// Parse decodes the textual form produced by String.
func Parse(s string) (RadURL, error) {
	parsed, err := url.Parse(s)
	if err != nil {
		return RadURL{}, &Error{Kind: KindProtocolViolation, Op: "parse", Err: err}
	}
	if parsed.Scheme != Scheme {
		return RadURL{}, &Error{Kind: KindProtocolViolation, Op: "parse",
			Err: fmt.Errorf("unsupported scheme %q", parsed.Scheme)}
	}
	if parsed.User == nil || parsed.User.Username() == "" {
		return RadURL{}, &Error{Kind: KindProtocolViolation, Op: "parse", Err: fmt.Errorf("missing local peer")}
	}
	local, err := peerid.Parse(parsed.User.Username())
	if err != nil {
		return RadURL{}, &Error{Kind: KindProtocolViolation, Op: "parse", Err: fmt.Errorf("local peer: %w", err)}
	}
	if parsed.Host == "" {
		return RadURL{}, &Error{Kind: KindProtocolViolation, Op: "parse", Err: fmt.Errorf("missing remote peer")}
	}
	remote, err := peerid.Parse(parsed.Host)
	if err != nil {
		return RadURL{}, &Error{Kind: KindProtocolViolation, Op: "parse", Err: fmt.Errorf("remote peer: %w", err)}
	}

	// parsed.Path is already percent-decoded by net/url.
	repoPath := strings.TrimPrefix(parsed.Path, "/")
	repoPath = strings.TrimSuffix(repoPath, ".git")
	if repoPath == "" {
		return RadURL{}, &Error{Kind: KindProtocolViolation, Op: "parse", Err: fmt.Errorf("missing repo path")}
	}
	repo, err := urn.Parse(repoPath)
	if err != nil {
		return RadURL{}, &Error{Kind: KindProtocolViolation, Op: "parse", Err: fmt.Errorf("repo urn: %w", err)}
	}

	q := parsed.Query()
	var nonce uuid.UUID
	if n := q.Get("n"); n != "" {
		nonce, err = uuid.Parse(n)
		if err != nil {
			return RadURL{}, &Error{Kind: KindProtocolViolation, Op: "parse", Err: fmt.Errorf("nonce: %w", err)}
		}
	}

	return RadURL{
		LocalPeer:  local,
		RemotePeer: remote,
		Repo:       repo,
		AddrHints:  q["addr"],
		Nonce:      nonce,
	}, nil
}
