package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIPFSNode serves the subset of the Kubo RPC API the backend uses.
type fakeIPFSNode struct {
	mu     sync.Mutex
	blocks map[string][]byte
}

func (n *fakeIPFSNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/v0/version":
		json.NewEncoder(w).Encode(map[string]string{"Version": "0.29.0", "Commit": "fake"})

	case "/api/v0/id":
		json.NewEncoder(w).Encode(map[string]string{"ID": "12D3KooWFakeNode"})

	case "/api/v0/block/put":
		reader, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		part, err := reader.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(part)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		key := cid.NewCidV1(cid.Raw, sum).String()

		n.mu.Lock()
		n.blocks[key] = data
		n.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"Key": key, "Size": len(data)})

	case "/api/v0/block/get":
		n.mu.Lock()
		data, ok := n.blocks[r.URL.Query().Get("arg")]
		n.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"Message": "block was not found locally (offline)", "Code": 0, "Type": "error"})
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)

	default:
		http.NotFound(w, r)
	}
}

func TestIPFSBackend(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	node := &fakeIPFSNode{blocks: make(map[string][]byte)}
	ts := httptest.NewServer(node)
	defer ts.Close()

	backend := NewIPFSBackend(strings.TrimPrefix(ts.URL, "http://"), 5*time.Second, logger)
	require.True(t, backend.Available(ctx))

	data := []byte(`{"service_id":"svc-1","status":"deployed"}`)
	id, err := backend.Store(ctx, data, interfaces.OutcomeRecord)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(data), id)

	expected, err := CIDFor(id)
	require.NoError(t, err)
	node.mu.Lock()
	assert.Contains(t, node.blocks, expected.String())
	node.mu.Unlock()

	got, err := backend.Fetch(ctx, id, interfaces.OutcomeRecord)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = backend.Fetch(ctx, interfaces.ContentID{0x42}, interfaces.OutcomeRecord)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	// A node returning the wrong bytes is caught.
	node.mu.Lock()
	node.blocks[expected.String()] = []byte("tampered")
	node.mu.Unlock()
	_, err = backend.Fetch(ctx, id, interfaces.OutcomeRecord)
	assert.ErrorIs(t, err, ErrCIDMismatch)
}

func TestCIDForMatchesContentHash(t *testing.T) {
	data := []byte("service=alpine;replicas=1")

	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	require.NoError(t, err)

	c, err := CIDFor(interfaces.ComputeID(data))
	require.NoError(t, err)
	assert.True(t, c.Equals(cid.NewCidV1(cid.Raw, sum)))
	assert.Equal(t, uint64(cid.Raw), c.Type())
}
