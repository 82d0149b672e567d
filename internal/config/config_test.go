// internal/config/config_test.go
package config

import (
	"os"
	"strings"
	"testing"

	"github.com/velcourt/pageharvest/internal/output"
	"github.com/velcourt/pageharvest/internal/proxy"
)

const sampleConfig = `
log_level: debug
template_dir: /etc/pageharvest/templates
proxy:
  addresses:
    - http://proxy-1:8080
    - http://proxy-2:8080
  policy: performance
  failure_threshold: 5
fetch:
  max_retries: 4
orchestrator:
  max_concurrent_jobs: 8
output:
  format: json
  path: results.json
server:
  address: ":9090"
metrics:
  enabled: true
`

func TestLoadFromBytes(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level %q, got %q", "debug", cfg.LogLevel)
	}
	if len(cfg.Proxy.Addresses) != 2 {
		t.Errorf("expected 2 proxy addresses, got %d", len(cfg.Proxy.Addresses))
	}
	if cfg.Proxy.Policy != proxy.PolicyPerformance {
		t.Errorf("expected performance policy, got %q", cfg.Proxy.Policy)
	}
	if cfg.Fetch.MaxRetries != 4 {
		t.Errorf("expected 4 retries, got %d", cfg.Fetch.MaxRetries)
	}
	if cfg.Orchestrator.MaxConcurrentJobs != 8 {
		t.Errorf("expected 8 concurrent jobs, got %d", cfg.Orchestrator.MaxConcurrentJobs)
	}
	if cfg.Output.Format != output.FormatJSON {
		t.Errorf("expected json output, got %q", cfg.Output.Format)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("expected server address :9090, got %q", cfg.Server.Address)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("log_level: info\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address, got %q", cfg.Server.Address)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected default metrics path, got %q", cfg.Metrics.Path)
	}
	if cfg.TemplateDir != "templates" {
		t.Errorf("expected default template dir, got %q", cfg.TemplateDir)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty input", ""},
		{"broken yaml", "log_level: [oops"},
		{"unknown log level", "log_level: chatty"},
		{"unknown proxy policy", "proxy:\n  policy: fastest\n"},
		{"output missing path", "output:\n  format: csv\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromBytes([]byte(tt.yaml)); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	os.Setenv("PH_TEST_PROXY", "http://env-proxy:3128")
	defer os.Unsetenv("PH_TEST_PROXY")

	cfg, err := LoadFromBytes([]byte("proxy:\n  addresses:\n    - ${PH_TEST_PROXY}\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Proxy.Addresses[0] != "http://env-proxy:3128" {
		t.Errorf("expected env expansion, got %q", cfg.Proxy.Addresses[0])
	}
}

func TestSaveToWriterRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"

	var buf strings.Builder
	if err := SaveToWriter(cfg, &buf); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	reloaded, err := LoadFromBytes([]byte(buf.String()))
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.LogLevel != "warn" {
		t.Errorf("expected log level to survive round trip, got %q", reloaded.LogLevel)
	}
}
