package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Runtime holds process settings supplied by the Lambda environment and the
// deployment, as opposed to the tunable application Config.
type Runtime struct {
	Region       string `env:"AWS_REGION,default=us-east-1"`
	FunctionName string `env:"AWS_LAMBDA_FUNCTION_NAME"`

	Tracer         TracerSettings         `env:",prefix=TRACER_"`
	CircuitBreaker CircuitBreakerSettings `env:",prefix=CIRCUIT_BREAKER_"`
}

// TracerSettings configures OpenTelemetry tracing.
type TracerSettings struct {
	Enabled  bool   `env:"ENABLED,default=false"`
	Exporter string `env:"EXPORTER,default=stdout"`
}

// CircuitBreakerSettings configures the LLM provider circuit breaker.
type CircuitBreakerSettings struct {
	Enabled     bool          `env:"ENABLED,default=true"`
	MaxFailures uint32        `env:"MAX_FAILURES,default=5"`
	Timeout     time.Duration `env:"TIMEOUT,default=30s"`
	Interval    time.Duration `env:"INTERVAL,default=60s"`
}

// DefaultCircuitBreaker mirrors the envconfig defaults for callers that build
// settings by hand.
func DefaultCircuitBreaker() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		Enabled:     true,
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		Interval:    60 * time.Second,
	}
}

// InLambda reports whether the process is running inside the Lambda runtime.
func (r *Runtime) InLambda() bool { return r.FunctionName != "" }

// LoadRuntime reads Runtime from the process environment.
func LoadRuntime(ctx context.Context) (*Runtime, error) {
	return loadRuntime(ctx, envconfig.OsLookuper())
}

func loadRuntime(ctx context.Context, lookuper envconfig.Lookuper) (*Runtime, error) {
	var rt Runtime
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &rt,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("load runtime settings: %w", err)
	}
	return &rt, nil
}
