package compaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/cuckoodb/internal/index"
)

func TestNewIsInertByDefault(t *testing.T) {
	c := New()
	require.False(t, c.InProgress())
	require.Nil(t, c.Index())
}

func TestBeginInstallsIndexAndEndClearsIt(t *testing.T) {
	c := New()

	idx, err := index.New(context.Background(), &index.Config{DataDir: t.TempDir(), Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)

	c.Begin(idx)
	require.True(t, c.InProgress())
	require.Same(t, idx, c.Index())

	c.End()
	require.False(t, c.InProgress())
	require.Nil(t, c.Index())
}
