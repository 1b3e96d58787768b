package config

import (
	"strings"
	"testing"
	"time"
)

const gatewayHCL = `
gateway {
  name        = "gw-us-east"
  region      = "us-east"
  listen_port = 8080
  log_level   = "debug"

  service {
    id      = "billing"
    address = "10.0.0.5"
    port    = 9000

    health_check {
      type     = "tcp"
      interval = "5s"
      timeout  = "2s"
    }
  }

  service {
    id      = "search"
    address = "10.0.0.6"
    port    = 9001

    health_check {
      type     = "http"
      interval = "10s"
      timeout  = "3s"
      url      = "http://10.0.0.6:9001/healthz"
    }
  }

  peer {
    id      = "gw-eu-west"
    address = "gw-eu-west.example.com"
    port    = 8080
    tls     = true
  }

  transport {
    type = "nats"

    nats {
      url            = "nats://127.0.0.1:4222"
      max_reconnects = 10
      reconnect_wait = "2s"
    }
  }

  store {
    type = "redis"

    redis {
      url = "redis://127.0.0.1:6379"
    }
  }

  latency {
    interval = "5s"
    timeout  = "2s"
  }

  heartbeat {
    interval = "10s"
    timeout  = "2s"
    retries  = 3
  }

  failover {
    retries  = 2
    interval = "1s"
  }

  rate_limit {
    rpm = 600
  }
}
`

const orbitHCL = `
orbit {
  listen_port     = 9090
  max_connections = 1024

  gateway {
    id      = "gw-us-east"
    address = "gw-us-east.example.com"
    port    = 8080
  }

  gateway {
    id      = "gw-eu-west"
    address = "gw-eu-west.example.com"
    port    = 8080
  }

  transport {
    type = "nats"

    nats {
      url = "nats://127.0.0.1:4222"
    }
  }

  heartbeat {
    interval = "10s"
    timeout  = "2s"
    retries  = 3
  }

  load_balancing {
    method = "round_robin"
  }

  security {
    ssl_enabled = false
  }

  logging {
    level = "info"
  }

  metrics {
    enabled  = true
    endpoint = "/metrics"
  }
}
`

func TestParseGateway(t *testing.T) {
	cfg, err := ParseGateway("config-gateway.hcl", []byte(gatewayHCL))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Name != "gw-us-east" || cfg.Region != "us-east" {
		t.Errorf("identity = (%s, %s)", cfg.Name, cfg.Region)
	}
	if cfg.ListenPort != 8080 {
		t.Errorf("listen_port = %d", cfg.ListenPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}

	if len(cfg.Services) != 2 {
		t.Fatalf("services = %d, want 2", len(cfg.Services))
	}
	billing := cfg.Services[0]
	if billing.ID != "billing" || billing.Addr() != "10.0.0.5:9000" {
		t.Errorf("billing = %+v", billing)
	}
	if billing.HealthCheck.Type != HealthCheckTCP {
		t.Errorf("billing check type = %q", billing.HealthCheck.Type)
	}
	if billing.HealthCheck.Interval != 5*time.Second || billing.HealthCheck.Timeout != 2*time.Second {
		t.Errorf("billing durations = %v / %v", billing.HealthCheck.Interval, billing.HealthCheck.Timeout)
	}
	search := cfg.Services[1]
	if search.HealthCheck.Type != HealthCheckHTTP || search.HealthCheck.URL == "" {
		t.Errorf("search check = %+v", search.HealthCheck)
	}

	if len(cfg.Peers) != 1 || cfg.Peers[0].ID != "gw-eu-west" || !cfg.Peers[0].TLS {
		t.Errorf("peers = %+v", cfg.Peers)
	}

	if cfg.Transport.Type != "nats" || cfg.Transport.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Transport.NATS.MaxReconnects != 10 || cfg.Transport.NATS.ReconnectWait != 2*time.Second {
		t.Errorf("nats tuning = %+v", cfg.Transport.NATS)
	}

	if cfg.Store.Type != StoreRedis || cfg.Store.Redis.URL == "" {
		t.Errorf("store = %+v", cfg.Store)
	}

	if cfg.Latency.Interval != 5*time.Second {
		t.Errorf("latency.interval = %v", cfg.Latency.Interval)
	}
	if cfg.Heartbeat.Retries != 3 {
		t.Errorf("heartbeat.retries = %d", cfg.Heartbeat.Retries)
	}
	if cfg.Failover.Retries != 2 || cfg.Failover.Interval != time.Second {
		t.Errorf("failover = %+v", cfg.Failover)
	}
	if cfg.RateLimit.RPM != 600 {
		t.Errorf("rate_limit.rpm = %d", cfg.RateLimit.RPM)
	}

	m := cfg.ServiceMap()
	if len(m) != 2 || m["billing"].ID != "billing" {
		t.Errorf("ServiceMap = %+v", m)
	}
}

func TestParseGateway_DefaultsAndMinimal(t *testing.T) {
	minimal := `
gateway {
  name        = "gw"
  region      = "r"
  listen_port = 8080

  transport {
    type = "nats"

    nats {
      url = "nats://localhost:4222"
    }
  }

  latency {
    interval = "5s"
    timeout  = "2s"
  }

  heartbeat {
    interval = "10s"
    timeout  = "2s"
    retries  = 3
  }

  failover {
    retries  = 1
    interval = "1s"
  }
}
`
	cfg, err := ParseGateway("min.hcl", []byte(minimal))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default log_level = %q, want info", cfg.LogLevel)
	}
	if cfg.Store.Type != StoreMemory {
		t.Errorf("default store = %q, want memory", cfg.Store.Type)
	}
	if cfg.RateLimit.RPM != 0 {
		t.Errorf("default rpm = %d, want 0", cfg.RateLimit.RPM)
	}
}

func TestParseGateway_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		mangle  func(string) string
		wantErr string
	}{
		{
			"bad duration",
			func(s string) string { return strings.Replace(s, `interval = "5s"`, `interval = "fast"`, 1) },
			"invalid duration",
		},
		{
			"bad health check type",
			func(s string) string { return strings.Replace(s, `type     = "tcp"`, `type     = "icmp"`, 1) },
			"invalid health check type",
		},
		{
			"duplicate service id",
			func(s string) string { return strings.Replace(s, `id      = "search"`, `id      = "billing"`, 1) },
			"duplicate service id",
		},
		{
			"bad store type",
			func(s string) string { return strings.Replace(s, `type = "redis"`, `type = "dynamo"`, 1) },
			"invalid store type",
		},
		{
			"bad log level",
			func(s string) string { return strings.Replace(s, `log_level   = "debug"`, `log_level   = "loud"`, 1) },
			"invalid log_level",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseGateway("bad.hcl", []byte(tc.mangle(gatewayHCL)))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseGateway_HTTPCheckRequiresURL(t *testing.T) {
	mangled := strings.Replace(gatewayHCL,
		`      url      = "http://10.0.0.6:9001/healthz"`, "", 1)
	_, err := ParseGateway("bad.hcl", []byte(mangled))
	if err == nil || !strings.Contains(err.Error(), "http health check requires url") {
		t.Errorf("expected url requirement error, got %v", err)
	}
}

func TestParseOrbit(t *testing.T) {
	cfg, err := ParseOrbit("config-orbit.hcl", []byte(orbitHCL))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.ListenPort != 9090 || cfg.MaxConnections != 1024 {
		t.Errorf("listener = %d / %d", cfg.ListenPort, cfg.MaxConnections)
	}
	if len(cfg.Gateways) != 2 {
		t.Errorf("gateways = %d, want 2", len(cfg.Gateways))
	}
	if cfg.LoadBalancing.Method != "round_robin" {
		t.Errorf("method = %q", cfg.LoadBalancing.Method)
	}
	if cfg.Heartbeat.Interval != 10*time.Second {
		t.Errorf("heartbeat.interval = %v", cfg.Heartbeat.Interval)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Endpoint != "/metrics" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestParseOrbit_SSLRequiresCerts(t *testing.T) {
	mangled := strings.Replace(orbitHCL, "ssl_enabled = false", "ssl_enabled = true", 1)
	_, err := ParseOrbit("bad.hcl", []byte(mangled))
	if err == nil || !strings.Contains(err.Error(), "cert_file") {
		t.Errorf("expected cert requirement error, got %v", err)
	}
}
