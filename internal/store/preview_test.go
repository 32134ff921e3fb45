package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewRegistryCreateAndGet(t *testing.T) {
	r := NewPreviewRegistry()

	p := r.Create([]byte("blob"))
	assert.Contains(t, p.URL(), "blob:local/")

	data, ok := r.Get(p.URL())
	require.True(t, ok)
	assert.Equal(t, []byte("blob"), data)
	assert.Equal(t, 1, r.Len())
}

func TestPreviewReleaseIsIdempotent(t *testing.T) {
	r := NewPreviewRegistry()

	a := r.Create([]byte("a"))
	b := r.Create([]byte("b"))
	require.Equal(t, 2, r.Len())

	a.Release()
	a.Release()

	_, ok := r.Get(a.URL())
	assert.False(t, ok)
	_, ok = r.Get(b.URL())
	assert.True(t, ok)
	assert.Equal(t, 1, r.Len())
}
