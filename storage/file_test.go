package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/dlt-service-federation/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	backend, err := NewFileBackend(dir, logger)
	require.NoError(t, err)
	assert.True(t, backend.Available(ctx))
	assert.Equal(t, "file://"+dir, backend.LocationURI())

	data := []byte("catalog_ref=http://10.0.0.1/catalog")
	id, err := backend.Store(ctx, data, interfaces.EndpointRecord)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "endpoints", id.String()))

	got, err := backend.Fetch(ctx, id, interfaces.EndpointRecord)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Storing the same record again is idempotent.
	again, err := backend.Store(ctx, data, interfaces.EndpointRecord)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	entries, err := os.ReadDir(filepath.Join(dir, "endpoints"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = backend.Fetch(ctx, interfaces.ContentID{0x42}, interfaces.EndpointRecord)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, os.RemoveAll(dir))
	assert.False(t, backend.Available(ctx))
}

func TestStorageBackendFactory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := NewStorageBackendFactory(logger)
	dir := t.TempDir()

	testCases := []struct {
		name    string
		uri     string
		backend string
		wantErr bool
	}{
		{name: "file", uri: "file://" + dir, backend: "file-" + filepath.Base(dir)},
		{name: "s3", uri: "s3://AKID:SECRET@outcomes/federation/?region=eu-west-1&endpoint=http://127.0.0.1:9000&path_style=true", backend: "s3-outcomes"},
		{name: "ipfs default port", uri: "ipfs://127.0.0.1/", backend: "ipfs-127.0.0.1:5001"},
		{name: "ipfs bad timeout", uri: "ipfs://127.0.0.1:5001/?timeout=soon", wantErr: true},
		{name: "vault", uri: "vault://s.token@127.0.0.1:8200/secret/federation?tls=false", backend: "vault-secret-federation"},
		{name: "vault without mount", uri: "vault://127.0.0.1:8200/", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			location, err := interfaces.NewStorageBackendLocation(tc.uri)
			require.NoError(t, err)

			backend, err := factory.StorageBackendFor(location)
			if tc.wantErr {
				assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.backend, backend.Name())
		})
	}

	_, err := interfaces.NewStorageBackendLocation("github://owner/repo")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	fileLoc, err := interfaces.NewStorageBackendLocation("file://" + dir)
	require.NoError(t, err)
	badLoc := interfaces.StorageBackendLocation{Raw: "onchain://0x01", Scheme: "onchain"}

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{badLoc, fileLoc})
	require.NoError(t, err)
	assert.Equal(t, "multi:[file://"+dir+"]", multi.LocationURI())

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{badLoc})
	assert.Error(t, err)
}
