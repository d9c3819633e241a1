// Package config loads and validates the YAML configuration file that
// drives a migration run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds migration configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Target  TargetConfig  `yaml:"target"`
	Cluster ClusterConfig `yaml:"cluster"`
	Migrate MigrateConfig `yaml:"migrate"`
	Log     LogConfig     `yaml:"log"`
	State   StateConfig   `yaml:"state"`
	Metrics MetricsConfig `yaml:"metrics"`

	path string
}

type SourceConfig struct {
	Type string `yaml:"type"` // "rdb" | "replica"
	Addr string `yaml:"addr"`
	Path string `yaml:"path"` // RDB file path, when Type == "rdb"
}

type TargetConfig struct {
	Addr           string `yaml:"addr"`
	Cluster        bool   `yaml:"cluster"`
	AuthUser       string `yaml:"auth_user"`
	AuthPassword   string `yaml:"auth_password"`
	TLS            bool   `yaml:"tls"`
	ConnectTimeout string `yaml:"connection_timeout"`
}

type ClusterConfig struct {
	NodesConf string `yaml:"nodesConf"`
	Strict    bool   `yaml:"strict"`
}

type MigrateConfig struct {
	BatchSize   int    `yaml:"migrate_batch_size"`
	Threads     int    `yaml:"migrate_threads"`
	Flush       bool   `yaml:"migrate_flush"`
	Retries     int    `yaml:"migrate_retries"`
	Replace     string `yaml:"migrate_replace"` // off|on|fallback|legacy
	ThrottleQPS int    `yaml:"migrate_throttle_qps"`
	DryRun      bool   `yaml:"migrate_dry_run"`

	DBs         []int    `yaml:"filter_dbs"`
	Types       []string `yaml:"filter_types"`
	KeyPatterns []string `yaml:"filter_key_patterns"`
}

type LogConfig struct {
	Dir    string `yaml:"dir"`
	Level  string `yaml:"level"`
	Prefix string `yaml:"prefix"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

type MetricsConfig struct {
	Gateway  string `yaml:"metric_gateway"` // none|influxdb|memory
	InfluxURL string `yaml:"influx_url"`
}

// ValidationError collects configuration issues found by Validate.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("配置校验失败")
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	for _, err := range e.Errors {
		b.WriteString("\n - ")
		b.WriteString(err)
	}
	return b.String()
}

// Load reads, applies defaults to, and validates the YAML file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("配置文件路径为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("无法打开配置文件 %s: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
	}
	cfg.path = absPath
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = "rdb"
	}
	if c.Migrate.BatchSize <= 0 {
		c.Migrate.BatchSize = 256
	}
	if c.Migrate.Threads <= 0 {
		c.Migrate.Threads = 4
	}
	if c.Migrate.Replace == "" {
		c.Migrate.Replace = "off"
	}
	if c.Target.ConnectTimeout == "" {
		c.Target.ConnectTimeout = "5s"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Prefix == "" {
		c.Log.Prefix = "rdb2redis"
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.Metrics.Gateway == "" {
		c.Metrics.Gateway = "none"
	}
}

// Validate ensures the config is internally consistent and usable.
func (c *Config) Validate() error {
	var errs []string

	switch c.Source.Type {
	case "rdb":
		if c.Source.Path == "" {
			errs = append(errs, "source.path 必填 (source.type=rdb 时)")
		}
	case "replica":
		if c.Source.Addr == "" {
			errs = append(errs, "source.addr 必填 (source.type=replica 时)")
		}
	default:
		errs = append(errs, "source.type 仅支持 rdb 或 replica")
	}

	if c.Target.Addr == "" {
		errs = append(errs, "target.addr 必填")
	}
	if c.Target.Cluster && c.Cluster.NodesConf == "" {
		// nodesConf is optional: discovery via CLUSTER NODES against
		// target.addr is the fallback, so this is not an error, only
		// a note that live discovery will be used.
		_ = c.Cluster.NodesConf
	}
	if _, err := time.ParseDuration(c.Target.ConnectTimeout); err != nil {
		errs = append(errs, fmt.Sprintf("target.connection_timeout 无法解析: %v", err))
	}

	if c.Migrate.BatchSize <= 0 {
		errs = append(errs, "migrate.migrate_batch_size 必须 > 0")
	}
	if c.Migrate.Threads <= 0 {
		errs = append(errs, "migrate.migrate_threads 必须 > 0")
	}
	switch strings.ToLower(c.Migrate.Replace) {
	case "off", "on", "fallback", "legacy":
	default:
		errs = append(errs, "migrate.migrate_replace 仅支持 off|on|fallback|legacy")
	}
	if c.Migrate.Retries < 0 {
		errs = append(errs, "migrate.migrate_retries 不能为负")
	}

	switch strings.ToLower(c.Metrics.Gateway) {
	case "none", "memory", "influxdb":
	default:
		errs = append(errs, "metrics.metric_gateway 仅支持 none|memory|influxdb")
	}
	if strings.EqualFold(c.Metrics.Gateway, "influxdb") && c.Metrics.InfluxURL == "" {
		errs = append(errs, "metrics.influx_url 必填 (metric_gateway=influxdb 时)")
	}

	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

// ConnectTimeout parses Target.ConnectTimeout, already validated by Load.
func (c *Config) ConnectTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Target.ConnectTimeout)
	return d
}

// ResolvePath returns path resolved relative to the config file's
// directory, or path itself if already absolute.
func (c *Config) ResolvePath(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(c.path), path))
}

// StateDir returns the resolved state directory.
func (c *Config) StateDir() string { return c.ResolvePath(c.State.Dir) }

// StatusFilePath returns the path of the run-status JSON file inside
// the state directory.
func (c *Config) StatusFilePath() string {
	return filepath.Join(c.StateDir(), "status.json")
}

// LogDir returns the resolved log directory.
func (c *Config) LogDir() string { return c.ResolvePath(c.Log.Dir) }

// Summary renders a short multi-line operator-facing overview, in the
// style of a migration tool's startup banner.
func (c *Config) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "  🗄️  source : %s (%s)\n", c.Source.Type, firstNonEmpty(c.Source.Addr, c.Source.Path))
	fmt.Fprintf(&b, "  🎯  target : %s (cluster=%t)\n", c.Target.Addr, c.Target.Cluster)
	fmt.Fprintf(&b, "  🚚  migrate: batch=%d threads=%d flush=%t retries=%d replace=%s\n",
		c.Migrate.BatchSize, c.Migrate.Threads, c.Migrate.Flush, c.Migrate.Retries, c.Migrate.Replace)
	fmt.Fprintf(&b, "  📈  metrics: gateway=%s\n", c.Metrics.Gateway)
	fmt.Fprintf(&b, "  📂  state  : %s", c.StateDir())
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
