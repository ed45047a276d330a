package engine

import "github.com/okdaichi/shadowsim/internal/simtime"

// Config enumerates the Engine's recognized startup options as a fixed
// record rather than a dynamic option map, per the Design Notes.
type Config struct {
	WorkerThreads int              `yaml:"worker_threads"`
	MinTimeJump   simtime.Duration `yaml:"min_time_jump_ns"`
	EndTime       simtime.Time     `yaml:"end_time_ns"`
	GraphPath     string           `yaml:"graph_path"`
	Seed          int64            `yaml:"seed"`
}
