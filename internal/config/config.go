package config

// Config is the fully resolved, validated configuration tree, grounded on
// the recognized settings table in spec.md §6 and the `Config` schema
// referenced by original_source/model_ops_coordinator/config/loader.py.
type Config struct {
	Environment string `yaml:"environment"`

	Server struct {
		ZMQPort    int `yaml:"zmq_port"`
		GRPCPort   int `yaml:"grpc_port"`
		RESTPort   int `yaml:"rest_port"`
		MaxWorkers int `yaml:"max_workers"`
	} `yaml:"server"`

	Resources struct {
		GPUPollIntervalSec   int     `yaml:"gpu_poll_interval_sec"`
		VRAMSoftLimitMB      int64   `yaml:"vram_soft_limit_mb"`
		EvictionThresholdPct float64 `yaml:"eviction_threshold_pct"`
	} `yaml:"resources"`

	Models struct {
		Preload        []string `yaml:"preload"`
		DefaultDtype   string   `yaml:"default_dtype"`
		Quantization   bool     `yaml:"quantization"`
		IdleTimeoutSec int      `yaml:"idle_timeout_sec"`
	} `yaml:"models"`

	Learning struct {
		MaxParallelJobs int    `yaml:"max_parallel_jobs"`
		JobStore        string `yaml:"job_store"`
	} `yaml:"learning"`

	Goals struct {
		MaxActiveGoals int `yaml:"max_active_goals"`
	} `yaml:"goals"`

	Resilience struct {
		CircuitBreaker struct {
			FailureThreshold int `yaml:"failure_threshold"`
			ResetTimeoutSec  int `yaml:"reset_timeout_sec"`
		} `yaml:"circuit_breaker"`
		Bulkhead struct {
			MaxConcurrent int `yaml:"max_concurrent"`
			MaxQueueSize  int `yaml:"max_queue_size"`
		} `yaml:"bulkhead"`
	} `yaml:"resilience"`

	Auth struct {
		SharedSecret string `yaml:"shared_secret"`
	} `yaml:"auth"`

	EventBus struct {
		NATSURL string `yaml:"nats_url"`
	} `yaml:"event_bus"`

	GPU struct {
		SideStoreRedisAddr string `yaml:"side_store_redis_addr"`
	} `yaml:"gpu"`
}

// embeddedDefaults is the lowest-priority configuration layer, mirroring
// the shape of create_config_template in original_source/config/loader.py.
const embeddedDefaults = `
environment: development
server:
  zmq_port: 7211
  grpc_port: 7212
  rest_port: 8008
  max_workers: 16
resources:
  gpu_poll_interval_sec: 5
  vram_soft_limit_mb: 22000
  eviction_threshold_pct: 90
models:
  preload: []
  default_dtype: float16
  quantization: true
  idle_timeout_sec: 900
learning:
  max_parallel_jobs: 2
  job_store: "./learning_jobs.db"
goals:
  max_active_goals: 10
resilience:
  circuit_breaker:
    failure_threshold: 4
    reset_timeout_sec: 20
  bulkhead:
    max_concurrent: 8
    max_queue_size: 16
auth:
  shared_secret: ""
event_bus:
  nats_url: ""
gpu:
  side_store_redis_addr: ""
`
