package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the top-level configuration document: an ambient block (listen
// address, logging, metrics, tracing) the distilled protocol didn't need to
// mention because it assumed a pre-existing host process, plus the
// declarative policy document itself (services, action sets, request data).
type Config struct {
	Listen      ListenConfig             `koanf:"listen"`
	ExtProc     ListenConfig             `koanf:"extProc"`
	Logging     LoggingConfig            `koanf:"logging"`
	Metrics     MetricsConfig            `koanf:"metrics"`
	Tracing     TracingConfig            `koanf:"tracing"`
	Services    map[string]ServiceConfig `koanf:"services"`
	ActionSets  []ActionSetConfig        `koanf:"actionSets"`
	RequestData map[string]string        `koanf:"requestData"`
}

// ListenConfig is a host:port pair; one instance configures the admin HTTP
// server, another the ext_proc gRPC server.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig controls the shared slog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig controls the Prometheus namespace.
type MetricsConfig struct {
	Namespace string `koanf:"namespace"`
}

// TracingConfig controls the OTLP exporter and the buffering span processor.
type TracingConfig struct {
	Endpoint       string `koanf:"endpoint"`
	Insecure       bool   `koanf:"insecure"`
	BufferCapacity int    `koanf:"bufferCapacity"`
	BatchSize      int    `koanf:"batchSize"`
}

// ServiceType enumerates the service kinds a ServiceConfig may bind to.
type ServiceType string

const (
	ServiceAuth            ServiceType = "auth"
	ServiceRateLimit       ServiceType = "ratelimit"
	ServiceRateLimitCheck  ServiceType = "ratelimit-check"
	ServiceRateLimitReport ServiceType = "ratelimit-report"
)

// FailureMode enumerates how a service failure is handled.
type FailureMode string

const (
	FailureModeAllow FailureMode = "allow"
	FailureModeDeny  FailureMode = "deny"
)

// ServiceConfig describes one external decision service.
type ServiceConfig struct {
	Type        ServiceType   `koanf:"type"`
	Endpoint    string        `koanf:"endpoint"`
	Timeout     time.Duration `koanf:"timeout"`
	FailureMode FailureMode   `koanf:"failureMode"`
}

// RouteRuleConditions scopes an action set to a set of hostnames and route
// predicates.
type RouteRuleConditions struct {
	Hostnames  []string `koanf:"hostnames"`
	Predicates []string `koanf:"predicates"`
}

// DataEntryConfig is a (key, CEL expression) pair used for StoreData
// writes (an action's ConditionalData).
type DataEntryConfig struct {
	Key        string `koanf:"key"`
	Expression string `koanf:"expression"`
}

// HeaderMutationConfig describes one ModifyHeaders operation.
type HeaderMutationConfig struct {
	Map   string `koanf:"map"`  // "request" | "response"
	Op    string `koanf:"op"`   // "add" | "set" | "remove"
	Name  string `koanf:"name"`
	Value string `koanf:"value"` // CEL expression source; ignored for "remove"
}

// ActionConfig is one ordered action within an action set's template. A
// non-empty Service names an Auth/RateLimit dispatch bound to that service;
// an empty Service with non-empty Headers/ConditionalData describes a local
// ModifyHeaders/StoreData action instead.
type ActionConfig struct {
	Service         string                 `koanf:"service"`
	Scope           string                 `koanf:"scope"`
	Predicate       string                 `koanf:"predicate"`
	ConditionalData []DataEntryConfig      `koanf:"conditionalData"`
	Headers         []HeaderMutationConfig `koanf:"headers"`
	FailureMode     FailureMode            `koanf:"failureMode"`
}

// ActionSetConfig is one ordered action set, scoped to hostnames/predicates.
type ActionSetConfig struct {
	Name                string              `koanf:"name"`
	RouteRuleConditions RouteRuleConditions `koanf:"routeRuleConditions"`
	Actions             []ActionConfig      `koanf:"actions"`
}

// DefaultConfig returns the baseline configuration applied before file and
// environment overlays.
func DefaultConfig() Config {
	return Config{
		Listen:  ListenConfig{Address: "0.0.0.0", Port: 9901},
		ExtProc: ListenConfig{Address: "0.0.0.0", Port: 9000},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{Namespace: "kuadrant"},
		Tracing: TracingConfig{
			BufferCapacity: 100,
			BatchSize:      50,
		},
		Services:    map[string]ServiceConfig{},
		ActionSets:  nil,
		RequestData: map[string]string{},
	}
}

// Validate checks structural invariants that cannot be expressed through
// struct tags alone: known service types/failure modes, non-empty hostnames,
// and that every action's service reference (if any) resolves.
func (c Config) Validate() error {
	if c.Listen.Port <= 0 {
		return fmt.Errorf("config: listen.port must be positive")
	}
	if c.ExtProc.Port <= 0 {
		return fmt.Errorf("config: extProc.port must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("config: unsupported logging.level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("config: unsupported logging.format %q", c.Logging.Format)
	}

	for name, svc := range c.Services {
		switch svc.Type {
		case ServiceAuth, ServiceRateLimit, ServiceRateLimitCheck, ServiceRateLimitReport:
		default:
			return fmt.Errorf("config: service %q: unsupported type %q", name, svc.Type)
		}
		if svc.Endpoint == "" {
			return fmt.Errorf("config: service %q: endpoint required", name)
		}
		switch svc.FailureMode {
		case FailureModeAllow, FailureModeDeny, "":
		default:
			return fmt.Errorf("config: service %q: unsupported failureMode %q", name, svc.FailureMode)
		}
	}

	seen := make(map[string]bool)
	for i, as := range c.ActionSets {
		if as.Name == "" {
			return fmt.Errorf("config: actionSets[%d]: name required", i)
		}
		if seen[as.Name] {
			return fmt.Errorf("config: actionSets[%d]: duplicate name %q", i, as.Name)
		}
		seen[as.Name] = true
		if len(as.RouteRuleConditions.Hostnames) == 0 {
			return fmt.Errorf("config: actionSets[%d] (%s): routeRuleConditions.hostnames required", i, as.Name)
		}
		for j, a := range as.Actions {
			if a.Service != "" {
				if _, ok := c.Services[a.Service]; !ok {
					return fmt.Errorf("config: actionSets[%d] (%s): actions[%d]: unknown service %q", i, as.Name, j, a.Service)
				}
			}
			for k, h := range a.Headers {
				switch h.Op {
				case "add", "set", "remove":
				default:
					return fmt.Errorf("config: actionSets[%d] (%s): actions[%d]: headers[%d]: unsupported op %q", i, as.Name, j, k, h.Op)
				}
				switch h.Map {
				case "request", "response":
				default:
					return fmt.Errorf("config: actionSets[%d] (%s): actions[%d]: headers[%d]: unsupported map %q", i, as.Name, j, k, h.Map)
				}
			}
		}
	}
	return nil
}
