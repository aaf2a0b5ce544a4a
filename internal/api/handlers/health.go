package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jroosing/resolvfuzz/internal/api/models"
)

// Health godoc
// @Summary Health check
// @Description Reports the coordinator's own health: HTTP liveness plus the SQLite store's connectivity.
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Failure 503 {object} models.StatusResponse
// @Router /healthz [get]
func (h *Handler) Health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, models.StatusResponse{Status: "degraded", Detail: err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats godoc
// @Summary Fuzzer statistics
// @Description Returns coordinator uptime, system resource usage, and per-resolver fuzzing progress.
// @Tags system
// @Produce json
// @Success 200 {object} models.StatsResponse
// @Security ApiKeyAuth
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := models.MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := models.CPUStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuStats.UsedPercent = cpuPercent[0]
		cpuStats.IdlePercent = 100.0 - cpuPercent[0]
	}

	resp := models.StatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuStats,
		Memory:        memStats,
		Resolvers:     map[string]models.ResolverStats{},
	}

	if h.scheduler != nil {
		for id, st := range h.scheduler.Stats() {
			resp.Resolvers[id] = models.ResolverStats{
				CasesRun:   st.CasesRun,
				CorpusAdds: st.CorpusAdds,
				Crashes:    st.Crashes,
				Disabled:   st.Disabled,
			}
		}
	}

	if h.puller != nil {
		ps := h.puller.Status()
		resp.Fleet = &models.FleetStatus{
			PeerURL:       ps.PeerURL,
			LastRounds:    ps.LastRounds,
			LastPollError: ps.LastPollError,
			PollCount:     ps.PollCount,
			ErrorCount:    ps.ErrorCount,
		}
	}

	c.JSON(http.StatusOK, resp)
}
