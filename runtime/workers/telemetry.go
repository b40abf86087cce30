package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// SessionCounter is the registry slice the telemetry worker reads.
type SessionCounter interface {
	SessionCount() int
}

// TelemetryWorker periodically samples the relay's own process (CPU, RSS)
// together with the live session count and logs them. Internal visibility
// only, nothing is exported outside the process.
type TelemetryWorker struct {
	log      *slog.Logger
	sessions SessionCounter
	interval time.Duration
}

func NewTelemetryWorker(log *slog.Logger, sessions SessionCounter, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, sessions: sessions, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cpu, err := p.CPUPercent()
			if err != nil {
				w.log.Debug("Failed to collect cpu stats", "error", err)
				continue
			}
			mem, err := p.MemoryInfo()
			if err != nil {
				w.log.Debug("Failed to collect memory stats", "error", err)
				continue
			}
			w.log.Debug("relay telemetry",
				"sessions", w.sessions.SessionCount(),
				"cpu_percent", cpu,
				"rss_bytes", mem.RSS)
		}
	}
}
