package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := &Recorder{}
	scoped := NewScopedAPI("fetcher", NewScopedAPI("portal", rec))

	scoped.ReportBroken("fetch-schedule", "a")
	scoped.ReportWarning("subresource", "b", "c")
	scoped.ReportCount("sessions", 3)

	broken := rec.Reports("broken", "fetch-schedule")
	require.Len(t, broken, 1)
	require.Equal(t, "portal: fetcher: fetch-schedule", broken[0].ID)
	require.Equal(t, []any{"a"}, broken[0].Params)

	warnings := rec.Reports("warning", "subresource")
	require.Len(t, warnings, 1)
	require.Equal(t, []any{"b", "c"}, warnings[0].Params)

	counts := rec.Reports("count", "sessions")
	require.Len(t, counts, 1)
	require.Equal(t, []any{int64(3)}, counts[0].Params)

	require.Empty(t, rec.Reports("debug", ""))
}

func TestShutdownWithoutProviders(t *testing.T) {
	require.NoError(t, Telemetry{}.Shutdown(context.Background()))
}
