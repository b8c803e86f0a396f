package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the remediation agent.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Clients     ClientsConfig     `yaml:"clients"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Store       StoreConfig       `yaml:"store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
	Remediation RemediationConfig `yaml:"remediation"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Cache       CacheConfig       `yaml:"cache"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups the external capability integrations.
type ClientsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Advisor    AdvisorConfig    `yaml:"advisor"`
}

// PrometheusConfig configures access to the metrics query API.
type PrometheusConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ClassifierConfig configures the external failure-classification service.
// An empty endpoint selects the built-in threshold classifier.
type ClassifierConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AdvisorConfig configures the remediation-advice model.
type AdvisorConfig struct {
	APIKey  string        `yaml:"apiKey"`
	BaseURL string        `yaml:"baseURL"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// ClusterConfig identifies the workload being watched and how to reach the
// cluster. An empty kubeconfig selects in-cluster credentials.
type ClusterConfig struct {
	Kubeconfig string `yaml:"kubeconfig"`
	Namespace  string `yaml:"namespace"`
	Deployment string `yaml:"deployment"`
}

// StoreConfig controls batch persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig controls the periodic metrics fetch.
type IngestConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// AnalysisConfig controls pacing of the per-row pipeline. The delays exist
// for observability pacing only; zero values are valid.
type AnalysisConfig struct {
	SampleDelay      time.Duration `yaml:"sampleDelay"`
	RemediationDelay time.Duration `yaml:"remediationDelay"`
}

// RemediationConfig carries caller-supplied mutation inputs.
type RemediationConfig struct {
	MemoryRequest    string   `yaml:"memoryRequest"`
	MemoryLimit      string   `yaml:"memoryLimit"`
	CorrectImage     string   `yaml:"correctImage"`
	ImagePullSecrets []string `yaml:"imagePullSecrets"`
}

// AlertsConfig controls the failure-report batcher and its delivery sink.
type AlertsConfig struct {
	Interval time.Duration `yaml:"interval"`
	SMTP     SMTPConfig    `yaml:"smtp"`
}

// SMTPConfig configures alert email delivery. An empty host selects the
// log-only sink.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CacheConfig controls Valkey-backed caching of advisory responses.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	TLS          bool          `yaml:"tls"`
	AdviceTTL    time.Duration `yaml:"adviceTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment
// overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("KUBEMEND_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Prometheus: PrometheusConfig{
				URL:     "http://localhost:9090",
				Timeout: 10 * time.Second,
			},
			Classifier: ClassifierConfig{
				Timeout: 10 * time.Second,
			},
			Advisor: AdvisorConfig{
				Model:   "gpt-4o-mini",
				Timeout: 10 * time.Second,
			},
		},
		Cluster: ClusterConfig{
			Namespace:  "default",
			Deployment: "demo-deployment",
		},
		Store: StoreConfig{
			Path: "data/kubemend.db",
		},
		Ingest: IngestConfig{
			Interval: 5 * time.Minute,
		},
		Analysis: AnalysisConfig{
			SampleDelay:      500 * time.Millisecond,
			RemediationDelay: 1500 * time.Millisecond,
		},
		Remediation: RemediationConfig{
			CorrectImage: "nginx:latest",
		},
		Alerts: AlertsConfig{
			Interval: 30 * time.Second,
			SMTP:     SMTPConfig{Port: 587},
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			AdviceTTL:    10 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KUBEMEND_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("KUBEMEND_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("KUBEMEND_PROMETHEUS_URL"); v != "" {
		cfg.Clients.Prometheus.URL = v
	}
	if v := os.Getenv("KUBEMEND_CLASSIFIER_ENDPOINT"); v != "" {
		cfg.Clients.Classifier.Endpoint = v
	}
	if v := os.Getenv("KUBEMEND_ADVISOR_API_KEY"); v != "" {
		cfg.Clients.Advisor.APIKey = v
	}
	if v := os.Getenv("KUBEMEND_ADVISOR_BASE_URL"); v != "" {
		cfg.Clients.Advisor.BaseURL = v
	}
	if v := os.Getenv("KUBEMEND_ADVISOR_MODEL"); v != "" {
		cfg.Clients.Advisor.Model = v
	}
	if v := os.Getenv("KUBEMEND_KUBECONFIG"); v != "" {
		cfg.Cluster.Kubeconfig = v
	}
	if v := os.Getenv("KUBEMEND_NAMESPACE"); v != "" {
		cfg.Cluster.Namespace = v
	}
	if v := os.Getenv("KUBEMEND_DEPLOYMENT"); v != "" {
		cfg.Cluster.Deployment = v
	}
	if v := os.Getenv("KUBEMEND_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("KUBEMEND_INGEST_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.Interval = d
		}
	}
	if v := os.Getenv("KUBEMEND_ALERT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerts.Interval = d
		}
	}
	if v := os.Getenv("KUBEMEND_SMTP_HOST"); v != "" {
		cfg.Alerts.SMTP.Host = v
	}
	if v := os.Getenv("KUBEMEND_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Alerts.SMTP.Port = port
		}
	}
	if v := os.Getenv("KUBEMEND_SMTP_FROM"); v != "" {
		cfg.Alerts.SMTP.From = v
	}
	if v := os.Getenv("KUBEMEND_SMTP_TO"); v != "" {
		cfg.Alerts.SMTP.To = v
	}
	if v := os.Getenv("KUBEMEND_SMTP_USERNAME"); v != "" {
		cfg.Alerts.SMTP.Username = v
	}
	if v := os.Getenv("KUBEMEND_SMTP_PASSWORD"); v != "" {
		cfg.Alerts.SMTP.Password = v
	}
	if v := os.Getenv("KUBEMEND_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("KUBEMEND_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("KUBEMEND_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("KUBEMEND_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("KUBEMEND_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("KUBEMEND_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("KUBEMEND_CACHE_ADVICE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.AdviceTTL = d
		}
	}
	if v := os.Getenv("KUBEMEND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KUBEMEND_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
