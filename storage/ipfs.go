package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	shell "github.com/ipfs/go-ipfs-api"
	"github.com/multiformats/go-multihash"
	"github.com/ruteri/dlt-service-federation/interfaces"
)

// ErrCIDMismatch is returned when IPFS answers with a block whose CID does not
// match the content id it was asked for.
var ErrCIDMismatch = errors.New("ipfs block does not match content id")

// IPFSBackend stores records as raw IPFS blocks. A record's CIDv1 (raw codec,
// sha2-256) carries the same digest as its ContentID, so either can be derived
// from the other and no index is needed.
type IPFSBackend struct {
	shell       *shell.Shell
	apiAddr     string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS storage backend talking to the node API at apiAddr (host:port).
func NewIPFSBackend(apiAddr string, timeout time.Duration, log *slog.Logger) *IPFSBackend {
	sh := shell.NewShell(apiAddr)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	return &IPFSBackend{
		shell:       sh,
		apiAddr:     apiAddr,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/?timeout=%s", apiAddr, timeout),
	}
}

// CIDFor returns the CIDv1 of the raw block holding the content with this id.
func CIDFor(id interfaces.ContentID) (cid.Cid, error) {
	mh, err := multihash.Encode(id.Bytes(), multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Fetch retrieves the raw block for id. Record types share one namespace on IPFS.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID, recordType interfaces.RecordType) ([]byte, error) {
	start := time.Now()
	c, err := CIDFor(id)
	if err != nil {
		return nil, err
	}

	data, err := b.shell.BlockGet(c.String())
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			b.log.Debug("Content not found in IPFS",
				slog.String("cid", c.String()),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrContentNotFound
		}

		b.log.Error("Failed to fetch block from IPFS",
			slog.String("cid", c.String()),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if interfaces.ComputeID(data) != id {
		return nil, fmt.Errorf("%w: %s", ErrCIDMismatch, c)
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("cid", c.String()),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Store puts data as a raw block and checks that the node derived the expected CID.
func (b *IPFSBackend) Store(ctx context.Context, data []byte, recordType interfaces.RecordType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	expected, err := CIDFor(id)
	if err != nil {
		return id, err
	}

	key, err := b.shell.BlockPut(data, "raw", "sha2-256", -1)
	if err != nil {
		return id, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	got, err := cid.Decode(key)
	if err != nil {
		return id, fmt.Errorf("unexpected block put output %q: %w", key, err)
	}
	if !got.Equals(expected) {
		return id, fmt.Errorf("%w: stored %s, expected %s", ErrCIDMismatch, got, expected)
	}

	b.log.Debug("Stored content in IPFS",
		slog.String("cid", got.String()),
		slog.String("contentID", id.String()),
		slog.String("recordType", recordType.String()))

	return id, nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s", b.apiAddr)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}
