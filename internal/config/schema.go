package config

// AgentConfig is the top-level YAML structure.
type AgentConfig struct {
	Version   string        `yaml:"version"`
	Service   ServiceConf   `yaml:"service"`
	Server    ServerConf    `yaml:"server"`
	Engine    EngineConf    `yaml:"engine"`
	Compute   ComputeConf   `yaml:"compute"`
	Store     StoreConf     `yaml:"store"`
	Log       LogConf       `yaml:"log"`
	Telemetry TelemetryConf `yaml:"telemetry"`
}

// ServiceConf names the host; both values tag every actor event.
type ServiceConf struct {
	Name string `yaml:"name" env:"SYNCAGENT_SERVICE_NAME"`
	Node string `yaml:"node" env:"SYNCAGENT_NODE_NAME"`
}

// ServerConf holds the inbound HTTP listener settings.
type ServerConf struct {
	Addr           string `yaml:"addr" env:"SYNCAGENT_ADDR"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	IdleTimeoutMs  int    `yaml:"idle_timeout_ms"`
}

// EngineConf holds tunable actor host settings.
type EngineConf struct {
	MailboxDepth    int `yaml:"mailbox_depth"`
	CallTimeoutMs   int `yaml:"call_timeout_ms"`
	IdleTimeoutMs   int `yaml:"idle_timeout_ms"`
	SweepIntervalMs int `yaml:"sweep_interval_ms"`
}

// ComputeConf configures the outbound compute API client.
type ComputeConf struct {
	HostTemplate     string `yaml:"host_template" env:"SYNCAGENT_COMPUTE_HOST_TEMPLATE"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

// StoreConf selects where actor state is kept.
type StoreConf struct {
	Driver string `yaml:"driver" env:"SYNCAGENT_STORE_DRIVER"` // "sqlite" or "memory"
	Path   string `yaml:"path" env:"SYNCAGENT_STORE_PATH"`
}

// LogConf controls the process logger.
type LogConf struct {
	Level  string `yaml:"level" env:"SYNCAGENT_LOG_LEVEL"`
	Format string `yaml:"format" env:"SYNCAGENT_LOG_FORMAT"` // "text" or "json"
}

// TelemetryConf enables OTLP trace export when an endpoint is set.
type TelemetryConf struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"SYNCAGENT_OTLP_ENDPOINT"`
}
