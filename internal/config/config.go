// Package config builds the proxy's single immutable Config once at process
// entry and passes it by reference to every component, per the consolidation
// called for by the external-interfaces design.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Adapter identifies which backend the proxy speaks to.
type Adapter string

const (
	AdapterXAI  Adapter = "xai"
	AdapterGroq Adapter = "groq"
)

// OSFamily is the host family used to template tool descriptions.
type OSFamily string

const (
	OSWindows OSFamily = "windows"
	OSUnix    OSFamily = "unix"
	OSDarwin  OSFamily = "darwin"
)

const (
	defaultPortXAI  = 5000
	defaultPortGroq = 5003

	// LongContextTokenThreshold is the input-token count above which the
	// Model Selector routes to a backend's long-context model ahead of the
	// coding-keyword and default rules (web-search, high-reasoning marker
	// and reasoning-keyword matches still win), mirroring the router's
	// long-context rule.
	LongContextTokenThreshold = 60000
)

// Config is built once in main and never mutated afterward.
type Config struct {
	Adapter  Adapter
	Port     int
	OSFamily OSFamily

	XAIAPIKey  string
	GroqAPIKey string

	// HaikuExplainGoesHighReasoning resolves the open question in
	// default false keeps claude-3-5-haiku + "explain"
	// on the fast/medium path.
	HaikuExplainGoesHighReasoning bool
}

// Load reads Config from the process environment. It never reads a file:
// credential persistence is explicitly out of scope.
func Load() (*Config, error) {
	cfg := &Config{
		Adapter:  Adapter(os.Getenv("CLAUDEPROXY_ADAPTER")),
		OSFamily: detectOSFamily(),
	}

	switch cfg.Adapter {
	case AdapterXAI, AdapterGroq:
	case "":
		return nil, fmt.Errorf("CLAUDEPROXY_ADAPTER is required (xai|groq)")
	default:
		return nil, fmt.Errorf("CLAUDEPROXY_ADAPTER must be xai or groq, got %q", cfg.Adapter)
	}

	if override := os.Getenv("CLAUDEPROXY_OS_OVERRIDE"); override != "" {
		switch OSFamily(override) {
		case OSWindows, OSUnix, OSDarwin:
			cfg.OSFamily = OSFamily(override)
		default:
			return nil, fmt.Errorf("CLAUDEPROXY_OS_OVERRIDE must be windows, unix, or darwin, got %q", override)
		}
	}

	cfg.Port = defaultPort(cfg.Adapter)
	if raw := os.Getenv("CLAUDEPROXY_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("CLAUDEPROXY_PORT must be a valid TCP port, got %q", raw)
		}
		cfg.Port = port
	}

	cfg.XAIAPIKey = os.Getenv("XAI_API_KEY")
	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")

	cfg.HaikuExplainGoesHighReasoning = os.Getenv("CLAUDEPROXY_HAIKU_EXPLAIN_HIGH_REASONING") == "true"

	return cfg, nil
}

// RequireCredential validates the selected adapter's credential is present.
// Callers should exit with code 4 when this returns an error.
func (c *Config) RequireCredential() error {
	switch c.Adapter {
	case AdapterXAI:
		if c.XAIAPIKey == "" {
			return fmt.Errorf("XAI_API_KEY is required for adapter %q", c.Adapter)
		}
	case AdapterGroq:
		if c.GroqAPIKey == "" {
			return fmt.Errorf("GROQ_API_KEY is required for adapter %q", c.Adapter)
		}
	}
	return nil
}

func defaultPort(a Adapter) int {
	if a == AdapterGroq {
		return defaultPortGroq
	}
	return defaultPortXAI
}

func detectOSFamily() OSFamily {
	switch runtime.GOOS {
	case "windows":
		return OSWindows
	case "darwin":
		return OSDarwin
	default:
		return OSUnix
	}
}
