package tracing

import (
	"context"
	"os"
	"strconv"

	"go.opentelemetry.io/otel/propagation"
)

// Environment variables carrying tracing setup to child processes.
const (
	EnvExporter   = "FORKPOOL_TRACE_EXPORTER"
	EnvFile       = "FORKPOOL_TRACE_FILE"
	EnvEndpoint   = "FORKPOOL_TRACE_ENDPOINT"
	EnvSampleRate = "FORKPOOL_TRACE_SAMPLE_RATE"
	EnvService    = "FORKPOOL_TRACE_SERVICE"
	EnvParent     = "TRACEPARENT"
	EnvState      = "TRACESTATE"
)

var propagator = propagation.TraceContext{}

// Environ returns the environment entries a child needs to export spans the
// way this process does and to parent its spans under the span in ctx.
func Environ(ctx context.Context) []string {
	var env []string
	if cfg, ok := activeConfig(); ok {
		env = append(env,
			EnvExporter+"="+cfg.Exporter,
			EnvFile+"="+cfg.FilePath,
			EnvEndpoint+"="+cfg.OTLPEndpoint,
			EnvSampleRate+"="+strconv.FormatFloat(cfg.SampleRate, 'g', -1, 64),
			EnvService+"="+cfg.ServiceName,
		)
	}

	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	if v := carrier.Get("traceparent"); v != "" {
		env = append(env, EnvParent+"="+v)
	}
	if v := carrier.Get("tracestate"); v != "" {
		env = append(env, EnvState+"="+v)
	}
	return env
}

// ConfigFromEnv rebuilds the parent's tracing config. Tracing is disabled when
// no exporter was handed down.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	exporter := os.Getenv(EnvExporter)
	if exporter == "" {
		return cfg
	}
	cfg.Enabled = true
	cfg.Exporter = exporter
	cfg.FilePath = os.Getenv(EnvFile)
	if v := os.Getenv(EnvEndpoint); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v, err := strconv.ParseFloat(os.Getenv(EnvSampleRate), 64); err == nil {
		cfg.SampleRate = v
	}
	if v := os.Getenv(EnvService); v != "" {
		cfg.ServiceName = v
	}
	return cfg
}

// ContextFromEnv returns ctx carrying the remote parent span handed down in
// TRACEPARENT, or ctx unchanged when there is none.
func ContextFromEnv(ctx context.Context) context.Context {
	carrier := propagation.MapCarrier{}
	if v := os.Getenv(EnvParent); v != "" {
		carrier.Set("traceparent", v)
	}
	if v := os.Getenv(EnvState); v != "" {
		carrier.Set("tracestate", v)
	}
	return propagator.Extract(ctx, carrier)
}

// InitFromEnv installs a provider built from the environment and returns a
// context continuing the parent's trace.
func InitFromEnv(ctx context.Context) (context.Context, *Provider, error) {
	p, err := NewProvider(ConfigFromEnv())
	if err != nil {
		return ctx, nil, err
	}
	return ContextFromEnv(ctx), p, nil
}
