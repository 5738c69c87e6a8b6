package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentID(t *testing.T) {
	id := ComputeID([]byte("checkpoint"))

	parsed, err := ParseContentID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	parsed, err = ParseContentID("0x" + id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{"", "0x1234", "zz" + id.String()[2:], id.String() + "00"} {
		_, err := ParseContentID(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewStorageBackendLocation(t *testing.T) {
	loc, err := NewStorageBackendLocation("s3://AKIA:s3cret@bucket/archive?region=eu-west-1&path_style=true&debug=no")
	require.NoError(t, err)

	assert.Equal(t, SchemeS3, loc.Scheme)
	assert.Equal(t, "bucket", loc.Host)
	assert.Equal(t, "/archive", loc.Path)
	assert.Equal(t, "eu-west-1", loc.Param("region"))
	assert.True(t, loc.ParamBool("path_style"))
	assert.False(t, loc.ParamBool("debug"))
	assert.False(t, loc.ParamBool("missing"))

	user, secret, ok := loc.Credentials()
	require.True(t, ok)
	assert.Equal(t, "AKIA", user)
	assert.Equal(t, "s3cret", secret)
	assert.Equal(t, "s3://***@bucket/archive?region=eu-west-1&path_style=true&debug=no", loc.Redacted())

	plain, err := NewStorageBackendLocation("file:///var/lib/blob-publisher")
	require.NoError(t, err)
	_, _, ok = plain.Credentials()
	assert.False(t, ok)
	assert.Equal(t, plain.Raw, plain.Redacted())
	assert.Equal(t, plain.Raw, plain.String())

	_, err = NewStorageBackendLocation("vault://secrets")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)
	_, err = NewStorageBackendLocation("s3://%zz")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "checkpoint", CheckpointType.String())
	assert.Equal(t, "receipt", ReceiptType.String())
	assert.Equal(t, "unknown", ContentType(9).String())
}
