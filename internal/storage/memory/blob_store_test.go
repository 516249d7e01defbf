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
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "Album/001_a.jpg", "image/jpeg", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://Album/001_a.jpg", uri)

	payload[0] = 'C'
	obj, ok := store.Get("Album/001_a.jpg")
	require.True(t, ok)
	require.Equal(t, "content", string(obj.Data))
	require.Equal(t, "image/jpeg", obj.ContentType)
}

func TestBlobStoreKeysSorted(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, key := range []string{"b", "a", "c"} {
		_, err := store.PutObject(context.Background(), key, "", strings.NewReader(key))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a", "b", "c"}, store.Keys())

	_, err := store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.Error(t, err)
}
