package health

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"
)

// Pinger is anything readiness can probe: the storage gateway, the cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker struct {
	db      Pinger
	cache   Pinger
	timeout time.Duration
}

type HealthStatus struct {
	Status   string           `json:"status"`
	Database ComponentHealth  `json:"database"`
	Redis    *ComponentHealth `json:"redis,omitempty"`
}

type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`
	Error        string `json:"error,omitempty"`
}

type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	DiskPercent   float64 `json:"disk_percent"`
	Goroutines    int     `json:"goroutines"`
}

type DetailedStatus struct {
	HealthStatus
	Host HostStats `json:"host"`
}

// NewHealthChecker builds a checker. cache may be nil when Redis is not
// configured; it is then left out of readiness.
func NewHealthChecker(db Pinger, cache Pinger) *HealthChecker {
	return &HealthChecker{db: db, cache: cache, timeout: 2 * time.Second}
}

// CheckReady pings the database and cache in parallel. Only the database
// decides readiness; the cache is optional.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var status HealthStatus
	var g errgroup.Group
	g.Go(func() error {
		status.Database = probe(ctx, h.db)
		return nil
	})
	if h.cache != nil {
		g.Go(func() error {
			redis := probe(ctx, h.cache)
			status.Redis = &redis
			return nil
		})
	}
	_ = g.Wait()

	status.Status = "healthy"
	if status.Database.Status != "healthy" {
		status.Status = "unhealthy"
	} else if status.Redis != nil && status.Redis.Status != "healthy" {
		status.Status = "degraded"
	}
	return status
}

func probe(ctx context.Context, p Pinger) ComponentHealth {
	start := time.Now()
	err := p.Ping(ctx)
	h := ComponentHealth{Status: "healthy", ResponseTime: time.Since(start).Milliseconds()}
	if err != nil {
		h.Status = "unhealthy"
		h.Error = err.Error()
	}
	return h
}

// CheckDetailed adds host statistics to the readiness report.
func (h *HealthChecker) CheckDetailed(ctx context.Context) DetailedStatus {
	out := DetailedStatus{HealthStatus: h.CheckReady(ctx)}
	out.Host.Goroutines = runtime.NumGoroutine()

	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		out.Host.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.Host.MemoryPercent = vm.UsedPercent
		out.Host.MemoryUsedMB = vm.Used / 1024 / 1024
	}
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		out.Host.DiskPercent = usage.UsedPercent
	}
	return out
}
