package models

import "time"

// CPUStats contains system CPU statistics.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats contains system memory statistics.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// ResolverStats is one resolver's accumulated fuzzing progress.
type ResolverStats struct {
	CasesRun   int  `json:"cases_run"`
	CorpusAdds int  `json:"corpus_adds"`
	Crashes    int  `json:"crashes"`
	Disabled   bool `json:"disabled"`
}

// FleetStatus reports the optional peer-stats puller's own health.
type FleetStatus struct {
	PeerURL       string `json:"peer_url"`
	LastRounds    int64  `json:"last_rounds"`
	LastPollError string `json:"last_poll_error,omitempty"`
	PollCount     int64  `json:"poll_count"`
	ErrorCount    int64  `json:"error_count"`
}

// StatsResponse contains coordinator runtime statistics.
type StatsResponse struct {
	Uptime        string                   `json:"uptime"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	StartTime     time.Time                `json:"start_time"`
	CPU           CPUStats                 `json:"cpu"`
	Memory        MemoryStats              `json:"memory"`
	Resolvers     map[string]ResolverStats `json:"resolvers"`
	Fleet         *FleetStatus             `json:"fleet,omitempty"`
}

// CorpusSizeResponse reports how many cases a resolver's corpus holds.
type CorpusSizeResponse struct {
	ResolverID string `json:"resolver_id"`
	Size       int    `json:"size"`
}

// DiffResponse is one indexed divergence record.
type DiffResponse struct {
	Fingerprint  string    `json:"fingerprint"`
	ResolverA    string    `json:"resolver_a"`
	ResolverB    string    `json:"resolver_b"`
	CaseUUID     string    `json:"case_uuid"`
	Categories   string    `json:"categories"`
	DiscoveredAt time.Time `json:"discovered_at"`
}
