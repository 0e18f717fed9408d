package config

import (
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Folder     string `env:"MD5RS_FOLDER"      envDefault:"."`
	ServerAddr string `env:"MD5RS_SERVER_ADDR" envDefault:"127.0.0.1:9090"`
	Token      string `env:"MD5RS_TOKEN"`
	UseTLS     bool   `env:"MD5RS_TLS"         envDefault:"false"`

	ImageSize  int     `env:"MD5RS_IMAGE_SIZE"  envDefault:"1280"`
	Quality    int     `env:"MD5RS_QUALITY"     envDefault:"70"`
	IframeOnly bool    `env:"MD5RS_IFRAME_ONLY" envDefault:"true"`
	MaxFrames  int     `env:"MD5RS_MAX_FRAMES"  envDefault:"3"`
	IoU        float32 `env:"MD5RS_IOU"         envDefault:"0.45"`
	Confidence float32 `env:"MD5RS_CONF"        envDefault:"0.2"`

	WorkerCount  int `env:"MD5RS_WORKERS"       envDefault:"4"`
	UploadBuffer int `env:"MD5RS_UPLOAD_BUFFER" envDefault:"20"`
	MaxInFlight  int `env:"MD5RS_MAX_IN_FLIGHT" envDefault:"64"`

	FrameTimeoutS        int `env:"MD5RS_FRAME_TIMEOUT_S"         envDefault:"30"`
	SweepIntervalMs      int `env:"MD5RS_SWEEP_INTERVAL_MS"       envDefault:"1000"`
	SendRetries          int `env:"MD5RS_SEND_RETRIES"            envDefault:"3"`
	ReconnectAttempts    int `env:"MD5RS_RECONNECT_ATTEMPTS"      envDefault:"5"`
	ReconnectBaseDelayMs int `env:"MD5RS_RECONNECT_BASE_DELAY_MS" envDefault:"1000"`
	DialTimeoutS         int `env:"MD5RS_DIAL_TIMEOUT_S"          envDefault:"10"`
	DrainGraceS          int `env:"MD5RS_DRAIN_GRACE_S"           envDefault:"30"`
	RunTimeoutS          int `env:"MD5RS_RUN_TIMEOUT_S"           envDefault:"0"`

	ExportFormat string `env:"MD5RS_EXPORT"      envDefault:"json"`
	OutputPath   string `env:"MD5RS_OUTPUT"`
	Checkpoint   int    `env:"MD5RS_CHECKPOINT"  envDefault:"100"`
	ResumeFrom   string `env:"MD5RS_RESUME_FROM"`

	MetricsPort  int    `env:"MD5RS_METRICS_PORT"  envDefault:"0"`
	OTLPEndpoint string `env:"MD5RS_OTLP_ENDPOINT"`
	LogLevel     string `env:"MD5RS_LOG_LEVEL"     envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
