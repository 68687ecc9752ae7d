package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"outcome":"success"}`)
	uri, err := store.PutObject(context.Background(), "out/b1/extracted_data.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://out/b1/extracted_data.json", uri)

	payload[0] = 'X'
	stored, contentType, ok := store.Object("out/b1/extracted_data.json")
	require.True(t, ok)
	require.Equal(t, `{"outcome":"success"}`, string(stored))
	require.Equal(t, "application/json", contentType)

	stored[0] = 'Y'
	again, _, _ := store.Object("out/b1/extracted_data.json")
	require.Equal(t, byte('{'), again[0])
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "  ", "text/plain", strings.NewReader("x"))
	require.Error(t, err)
	require.Empty(t, store.Paths())
}

func TestBlobStorePathsSorted(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b/2", "a/1", "b/1"} {
		_, err := store.PutObject(context.Background(), p, "", strings.NewReader(p))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a/1", "b/1", "b/2"}, store.Paths())
	_, _, ok := store.Object("missing")
	require.False(t, ok)
}
