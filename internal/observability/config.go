package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/botledger/internal/config"
)

// Config holds logging, tracing and metrics settings.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig layers the OTEL_* and LOG_* variables over the application config.
func LoadConfig(cfg config.Config) Config {
	out := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             "info",
		LogFormat:            "json",
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: "grpc",
		OtelSamplingRatio:    0.1,
	}
	if out.ServiceName == "" {
		out.ServiceName = "botledger"
	}

	if v := lookup("LOG_LEVEL"); v != "" {
		out.LogLevel = strings.ToLower(v)
	}
	if v := lookup("LOG_FORMAT"); v != "" {
		out.LogFormat = strings.ToLower(v)
	}
	if v := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		out.OtelExporterEndpoint = v
	}
	if v := lookup("OTEL_EXPORTER_OTLP_PROTOCOL"); v != "" {
		out.OtelExporterProtocol = strings.ToLower(v)
	}
	if v := lookup("OTEL_SAMPLING_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			out.OtelSamplingRatio = ratio
		}
	}
	if v := lookup("OTEL_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			out.OtelEnabled = enabled
		}
	}
	return out
}

// Debug is true for debug log level or a development environment.
func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func lookup(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
