package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("horario.perf_stats")
var cpuGauge, _ = meter.Float64Gauge("cpu_usage")
var memoryGauge, _ = meter.Int64Gauge("allocated_mb")
var goroutineGauge, _ = meter.Int64Gauge("goroutine_count")
var childProcessGauge, _ = meter.Int64Gauge("browser_processes")
var sessionGauge, _ = meter.Int64Gauge("stored_sessions")

// countChildren counts the processes spawned by this one, headless browsers that were not
// torn down show up here.
func countChildren() (int64, error) {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	children, err := self.Children()
	if errors.Is(err, process.ErrorNoChildren) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(len(children)), nil
}

// InstrumentPerfStats periodically records process statistics until ctx is done,
// sessions may be nil.
func InstrumentPerfStats(ctx context.Context, sessions func() int) {
	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)

				cpuUsage, err := cpu.PercentWithContext(ctx, time.Second*5, false)
				if err == nil && len(cpuUsage) > 0 {
					cpuGauge.Record(ctx, cpuUsage[0])
				} else if err != nil {
					slog.Warn("failed to read cpu usage", "err", err)
				}

				children, err := countChildren()
				if err == nil {
					childProcessGauge.Record(ctx, children)
				} else {
					slog.Warn("failed to count child processes", "err", err)
				}

				if sessions != nil {
					sessionGauge.Record(ctx, int64(sessions()))
				}
				memoryGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))
			case <-ctx.Done():
				return
			}
		}
	}()
}
