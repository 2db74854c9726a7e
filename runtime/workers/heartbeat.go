package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HubStats is what the heartbeat reports about the hub itself.
type HubStats interface {
	ConnectionCount() int
	OnlineCount() int
	TypingCount() int
}

type HeartbeatWorker struct {
	log      *slog.Logger
	stats    HubStats
	interval time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, stats HubStats, interval time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, stats: stats, interval: interval}
}

// Run logs process health (RSS, CPU) and hub load at every interval.
func (w *HeartbeatWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.log.Info("Heartbeat",
				"rss_bytes", rss,
				"cpu_percent", cpu,
				"connections", w.stats.ConnectionCount(),
				"online_users", w.stats.OnlineCount(),
				"typing", w.stats.TypingCount(),
			)
		}
	}
}

func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
