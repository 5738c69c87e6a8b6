package storage

import (
	"path/filepath"
	"testing"

	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageBackendFor(t *testing.T) {
	dir := t.TempDir()
	factory := NewStorageBackendFactory(testLog)

	tests := []struct {
		name     string
		uri      string
		wantName string
		wantURI  string
		wantErr  bool
	}{
		{
			name:     "file",
			uri:      "file://" + dir,
			wantName: "file-" + filepath.Base(dir),
			wantURI:  "file://" + dir,
		},
		{
			name:     "s3 with credentials",
			uri:      "s3://AKID:secret@archive/uploads?region=eu-west-1&endpoint=http://localhost:9000&path_style=true",
			wantName: "s3-archive",
			wantURI:  "s3://archive/uploads?region=eu-west-1&endpoint=http://localhost:9000",
		},
		{
			name:     "ipfs default port",
			uri:      "ipfs://127.0.0.1/publisher?timeout=5s",
			wantName: "ipfs-127.0.0.1:5001",
			wantURI:  "ipfs://127.0.0.1:5001/publisher",
		},
		{
			name:    "ipfs bad timeout",
			uri:     "ipfs://127.0.0.1:5001/?timeout=soon",
			wantErr: true,
		},
		{
			name:    "s3 without bucket",
			uri:     "s3:///prefix",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := interfaces.NewStorageBackendLocation(tt.uri)
			require.NoError(t, err)

			backend, err := factory.StorageBackendFor(loc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, backend.Name())
			assert.Equal(t, tt.wantURI, backend.LocationURI())
		})
	}
}

func TestNewStorageBackendLocation_RejectsUnknownScheme(t *testing.T) {
	_, err := interfaces.NewStorageBackendLocation("vault://secrets")
	assert.Error(t, err)
}

func TestCreateMultiBackend(t *testing.T) {
	factory := NewStorageBackendFactory(testLog)

	good, err := interfaces.NewStorageBackendLocation("file://" + t.TempDir())
	require.NoError(t, err)
	bad, err := interfaces.NewStorageBackendLocation("ipfs://127.0.0.1:5001/?timeout=never")
	require.NoError(t, err)

	backend, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{bad, good})
	require.NoError(t, err)
	assert.Equal(t, "multi-storage", backend.Name())
	assert.Equal(t, "multi:["+good.Raw+"]", backend.LocationURI())

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{bad})
	assert.Error(t, err)
}
