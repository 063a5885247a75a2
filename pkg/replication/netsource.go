package replication

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/sourcemesh/meshd/pkg/identity"
	"github.com/sourcemesh/meshd/pkg/oid"
	"github.com/sourcemesh/meshd/pkg/peerid"
	"github.com/sourcemesh/meshd/pkg/refname"
	"github.com/sourcemesh/meshd/pkg/store"
	"github.com/sourcemesh/meshd/pkg/urn"
	"github.com/sourcemesh/meshd/pkg/wire"
)

// packEncoder/packDecoder compress the object bytes a Peek/Fetch
// response carries before it hits the wire: the teacher's own
// packfile transport never sends raw git objects uncompressed, and
// zstd is the compressor its go.mod already names for that job. Both
// are safe for concurrent use across every WireSource/Server pair a
// process holds.
var packEncoder, _ = zstd.NewWriter(nil)
var packDecoder, _ = zstd.NewReader(nil)

func compressObjects(objects []ObjectRecord) {
	for i, o := range objects {
		objects[i].Data = packEncoder.EncodeAll(o.Data, make([]byte, 0, len(o.Data)))
	}
}

func decompressObjects(objects []ObjectRecord) error {
	for i, o := range objects {
		data, err := packDecoder.DecodeAll(o.Data, nil)
		if err != nil {
			return fmt.Errorf("replication: decompress object %s: %w", o.ID, err)
		}
		objects[i].Data = data
	}
	return nil
}

// netRequestKind distinguishes the two calls RemoteSource makes over
// the wire, carried on a stream negotiated to wire.ProtocolGit.
type netRequestKind uint8

const (
	netPeek netRequestKind = iota
	netFetch
)

type netRequest struct {
	Kind     netRequestKind `cbor:"0,keyasint"`
	Project  string         `cbor:"1,keyasint,omitempty"`
	Wants    []oid.Oid      `cbor:"2,keyasint,omitempty"`
	MaxBytes int64          `cbor:"3,keyasint"`
}

type netResponse struct {
	Advertisement *Advertisement `cbor:"0,keyasint,omitempty"`
	Objects       []ObjectRecord `cbor:"1,keyasint,omitempty"`
	BytesRead     int64          `cbor:"2,keyasint"`
	Err           string         `cbor:"3,keyasint,omitempty"`
}

// WireSource is the RemoteSource implementation that drives Peek and
// Fetch over an already-negotiated wire.ProtocolGit stream, CBOR-framed
// the same way pkg/interrogate's RPC is (spec.md §4.9: one protocol ID,
// multistream-select picks the sub-protocol, length-delimited CBOR
// frames carry the payload).
type WireSource struct {
	Stream   io.ReadWriteCloser
	RemoteID peerid.PeerId
}

func (s *WireSource) Remote() peerid.PeerId { return s.RemoteID }

func (s *WireSource) Peek(_ context.Context, project urn.Urn, maxBytes int64) (Advertisement, FetchResult, error) {
	resp, err := s.call(netRequest{Kind: netPeek, Project: project.String(), MaxBytes: maxBytes})
	if err != nil {
		return Advertisement{}, FetchResult{}, err
	}
	if resp.Advertisement == nil {
		return Advertisement{}, FetchResult{}, fmt.Errorf("replication: remote sent no advertisement")
	}
	if err := decompressObjects(resp.Objects); err != nil {
		return Advertisement{}, FetchResult{}, err
	}
	return *resp.Advertisement, FetchResult{Objects: resp.Objects, BytesRead: resp.BytesRead}, nil
}

func (s *WireSource) Fetch(_ context.Context, wants []oid.Oid, maxBytes int64) (FetchResult, error) {
	resp, err := s.call(netRequest{Kind: netFetch, Wants: wants, MaxBytes: maxBytes})
	if err != nil {
		return FetchResult{}, err
	}
	if err := decompressObjects(resp.Objects); err != nil {
		return FetchResult{}, err
	}
	return FetchResult{Objects: resp.Objects, BytesRead: resp.BytesRead}, nil
}

func (s *WireSource) call(req netRequest) (netResponse, error) {
	if err := wire.WriteFrame(s.Stream, &req); err != nil {
		return netResponse{}, fmt.Errorf("replication: write request: %w", err)
	}
	var resp netResponse
	if err := wire.ReadFrame(s.Stream, &resp); err != nil {
		return netResponse{}, fmt.Errorf("replication: read response: %w", err)
	}
	if resp.Err != "" {
		err := fmt.Errorf("replication: remote error: %s", resp.Err)
		// Server refuses a Peek/Fetch that would overrun MaxBytes with
		// an "exceeds the requested budget" message.
		if strings.Contains(resp.Err, "exceeds the requested budget") {
			return netResponse{}, &Error{Kind: KindByteBudgetExceeded, Err: err}
		}
		return netResponse{}, err
	}
	return resp, nil
}

// objectReader is the capability identity.NewStoreSource also asks
// of a store.Store; Server asks for it directly since it must stream
// raw object bytes rather than decoded Commits.
type objectReader interface {
	ReadObject(ctx context.Context, id oid.Oid) ([]byte, error)
}

// Server answers the Peek/Fetch side of the git-transport protocol
// against a local object store: the network counterpart of
// pkg/interrogate.Server, living here rather than in pkg/transport
// because only this package knows the Advertisement/ObjectRecord
// wire shapes it serves.
type Server struct {
	Store store.Store
}

// Handle answers one request read from stream.
func (srv *Server) Handle(ctx context.Context, stream io.ReadWriteCloser) error {
	defer stream.Close()
	reader, ok := srv.Store.(objectReader)
	if !ok {
		return fmt.Errorf("replication: store does not support object reads")
	}

	var req netRequest
	if err := wire.ReadFrame(stream, &req); err != nil {
		return fmt.Errorf("replication: read request: %w", err)
	}

	var resp netResponse
	switch req.Kind {
	case netPeek:
		resp = srv.answerPeek(ctx, reader, req)
	case netFetch:
		resp = srv.answerFetch(ctx, reader, req)
	default:
		resp = netResponse{Err: fmt.Sprintf("replication: unknown request kind %d", req.Kind)}
	}

	compressObjects(resp.Objects)
	if err := wire.WriteFrame(stream, &resp); err != nil {
		return fmt.Errorf("replication: write response: %w", err)
	}
	return nil
}

func (srv *Server) answerPeek(ctx context.Context, reader objectReader, req netRequest) netResponse {
	project, err := urn.Parse(req.Project)
	if err != nil {
		return netResponse{Err: err.Error()}
	}

	adv := Advertisement{}
	var objects []ObjectRecord
	var total int64

	collect := func(id oid.Oid, kind oid.Kind) ([]byte, error) {
		data, err := reader.ReadObject(ctx, id)
		if err != nil {
			return nil, err
		}
		total += int64(len(data))
		if total > req.MaxBytes {
			return nil, fmt.Errorf("replication: advertised set exceeds the requested budget")
		}
		objects = append(objects, ObjectRecord{ID: id, Kind: kind, Data: data})
		return data, nil
	}

	idRef, err := refname.NewOwnedRef(project, refname.LeafID)
	if err != nil {
		return netResponse{Err: err.Error()}
	}
	if tip, ok, err := srv.Store.FindRef(ctx, idRef.String()); err != nil {
		return netResponse{Err: err.Error()}
	} else if ok {
		adv.IdentityTip = &tip
		if err := collectHistory(tip, collect); err != nil {
			return netResponse{Err: err.Error()}
		}
	}

	selfRef, err := refname.NewOwnedRef(project, refname.LeafSelf)
	if err != nil {
		return netResponse{Err: err.Error()}
	}
	if tip, ok, err := srv.Store.FindRef(ctx, selfRef.String()); err != nil {
		return netResponse{Err: err.Error()}
	} else if ok {
		adv.SelfTip = &tip
		if _, err := collect(tip, oid.KindBlob); err != nil {
			return netResponse{Err: err.Error()}
		}
	}

	refsRef, err := refname.NewOwnedRef(project, refname.LeafSignedRefs)
	if err != nil {
		return netResponse{Err: err.Error()}
	}
	if tip, ok, err := srv.Store.FindRef(ctx, refsRef.String()); err != nil {
		return netResponse{Err: err.Error()}
	} else if ok {
		adv.SignedRefsTip = &tip
		if _, err := collect(tip, oid.KindBlob); err != nil {
			return netResponse{Err: err.Error()}
		}
	}

	return netResponse{Advertisement: &adv, Objects: objects, BytesRead: total}
}

// collectHistory walks an identity commit chain from tip to its root,
// collecting every commit object along the way; collect both hands
// back the decoded bytes (so the chain can be walked further) and
// enforces the caller's byte budget.
func collectHistory(tip oid.Oid, collect func(oid.Oid, oid.Kind) ([]byte, error)) error {
	cur := tip
	for {
		data, err := collect(cur, oid.KindCommit)
		if err != nil {
			return err
		}
		c, err := identity.DecodeCommit(cur, data)
		if err != nil {
			return fmt.Errorf("replication: decode commit %s: %w", cur, err)
		}
		if c.Parent == nil {
			return nil
		}
		cur = *c.Parent
	}
}

func (srv *Server) answerFetch(ctx context.Context, reader objectReader, req netRequest) netResponse {
	var objects []ObjectRecord
	var total int64
	for _, want := range req.Wants {
		data, err := reader.ReadObject(ctx, want)
		if err != nil {
			return netResponse{Err: fmt.Sprintf("replication: read object %s: %v", want, err)}
		}
		total += int64(len(data))
		if total > req.MaxBytes {
			return netResponse{Err: "replication: fetch exceeds the requested budget"}
		}
		objects = append(objects, ObjectRecord{ID: want, Kind: want.KindHint(), Data: data})
	}
	return netResponse{Objects: objects, BytesRead: total}
}
