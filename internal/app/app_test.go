package app

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/chunkforge/internal/testutil"
)

func TestRunGeneratesRegionInMemory(t *testing.T) {
	out := &testutil.SafeBuffer{}
	a, err := NewApp(out, &Options{
		Target:    "surface",
		LogFormat: "json",
		LogLevel:  "info",
	})
	require.NoError(t, err)

	err = a.Run(context.Background(), &Options{CenterX: 0, CenterZ: 0, Radius: 1})
	require.NoError(t, err)

	logs := out.String()
	assert.Contains(t, logs, "Generating region.")
	assert.Contains(t, logs, "Region generation finished.")
	assert.Contains(t, logs, `"failed":0`)
}

func TestRunHonorsCancelledContext(t *testing.T) {
	out := &testutil.SafeBuffer{}
	a, err := NewApp(out, &Options{Target: "full", LogFormat: "text", LogLevel: "error"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = a.Run(ctx, &Options{Radius: 0})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewAppRejectsUnknownTarget(t *testing.T) {
	_, err := NewApp(&testutil.SafeBuffer{}, &Options{Target: "bedrock"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	_, err := NewApp(&testutil.SafeBuffer{}, &Options{
		Target:     "full",
		ConfigPath: "/does/not/exist.hcl",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration")
}

func TestWorkersFlagOverridesConfig(t *testing.T) {
	a, err := NewApp(&testutil.SafeBuffer{}, &Options{Target: "full", Workers: 12})
	require.NoError(t, err)
	assert.Equal(t, 12, a.cfg.Scheduler.Workers)
}

func TestHealthAndStatsHandlers(t *testing.T) {
	a, err := NewApp(&testutil.SafeBuffer{}, &Options{Target: "full"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.healthHandler(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "OK")

	rec = httptest.NewRecorder()
	a.statsHandler(rec, httptest.NewRequest("GET", "/stats", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "completed")
}
