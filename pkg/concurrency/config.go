package concurrency

import (
	"os"
	"runtime"
	"strconv"
)

// Config holds concurrency sizing for batch execution and the runner.
type Config struct {
	// MaxConcurrent bounds how many flow runs execute at once
	MaxConcurrent int

	// Workers is the number of worker goroutines a runner spawns
	Workers int
}

// DefaultConfig returns sizing derived from the environment, falling back to
// the machine's CPU count. DAEDALUS_MAX_CONCURRENT and DAEDALUS_WORKERS
// override the detected values.
func DefaultConfig() Config {
	cpus := runtime.NumCPU()
	cfg := Config{
		MaxConcurrent: cpus * 2,
		Workers:       cpus,
	}
	if v := envInt("DAEDALUS_MAX_CONCURRENT"); v > 0 {
		cfg.MaxConcurrent = v
	}
	if v := envInt("DAEDALUS_WORKERS"); v > 0 {
		cfg.Workers = v
	}
	return cfg
}

func envInt(name string) int {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
