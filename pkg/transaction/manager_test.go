package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/iceymoss/go-discovery/pkg/db"
	"github.com/iceymoss/go-discovery/pkg/db/objects"
)

func newTestManager(t *testing.T) (*Manager, *gorm.DB) {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	return NewManager(conn), conn
}

func TestTransactionManagerCommit(t *testing.T) {
	m, conn := newTestManager(t)
	ctx := context.Background()

	err := m.Execute(ctx, nil, func(ctx context.Context) error {
		topic := &objects.Topic{Name: "Go", Slug: "go", IsActive: true}
		if err := m.DB(ctx).Create(topic).Error; err != nil {
			return err
		}
		return m.DB(ctx).Create(&objects.TopicQuery{TopicID: topic.ID, QueryText: "generics", Weight: 1}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, conn.Model(&objects.TopicQuery{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTransactionManagerRollback(t *testing.T) {
	m, conn := newTestManager(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.Execute(ctx, nil, func(ctx context.Context) error {
		if err := m.DB(ctx).Create(&objects.Topic{Name: "Rust", Slug: "rust"}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&objects.Topic{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTransactionManagerNested(t *testing.T) {
	m, conn := newTestManager(t)
	ctx := context.Background()

	assert.False(t, InTransaction(ctx))
	err := m.Execute(ctx, nil, func(ctx context.Context) error {
		assert.True(t, InTransaction(ctx))
		return m.Execute(ctx, nil, func(ctx context.Context) error {
			return m.DB(ctx).Create(&objects.Topic{Name: "AI", Slug: "ai"}).Error
		})
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, conn.Model(&objects.Topic{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
