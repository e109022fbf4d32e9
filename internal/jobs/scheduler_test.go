package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netmaster/internal/logger"
)

func TestAddAndRunNow(t *testing.T) {
	s := New(logger.Nop())
	runs := 0
	require.NoError(t, s.Add("sweep", "@every 5m", func(context.Context) { runs++ }))
	require.NoError(t, s.RunNow("sweep"))
	require.NoError(t, s.RunNow("sweep"))
	assert.Equal(t, 2, runs)

	assert.Error(t, s.Add("sweep", "@every 1m", func(context.Context) {}))
	assert.Error(t, s.Add("bad", "every so often", func(context.Context) {}))
	assert.Error(t, s.RunNow("missing"))
}

func TestRunNowRecoversPanics(t *testing.T) {
	s := New(logger.Nop())
	require.NoError(t, s.Add("boom", "@every 1h", func(context.Context) { panic("disk on fire") }))
	assert.NotPanics(t, func() { _ = s.RunNow("boom") })
}

func TestJobsReceiveStartContext(t *testing.T) {
	s := New(logger.Nop())
	type key struct{}
	var got any
	require.NoError(t, s.Add("ctx", "@every 1h", func(ctx context.Context) { got = ctx.Value(key{}) }))
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "v"))
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())
	require.NoError(t, s.RunNow("ctx"))
	assert.Equal(t, "v", got)
}
