package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStorage(t.TempDir(), "http://localhost:8080/archive")

	url, err := s.UploadFile(ctx, strings.NewReader(`{"ok":true}`), "rss.json", "raw/2025-01-02")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:8080/archive/raw/2025-01-02/"))
	assert.True(t, strings.HasSuffix(url, "_rss.json"))

	data, err := s.ReadFile(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	require.NoError(t, s.DeleteFile(ctx, url))
	_, err = s.ReadFile(ctx, url)
	assert.Error(t, err)

	// 重复删除不报错
	assert.NoError(t, s.DeleteFile(ctx, url))
}

func TestGetFileURLWithoutBase(t *testing.T) {
	s := NewLocalStorage(t.TempDir(), "")
	assert.Equal(t, "/raw/a.json", s.GetFileURL("raw/a.json"))
}
