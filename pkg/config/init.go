package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# grainweb Configuration File
#
# Values here are overridden by GRAINWEB_* environment variables, e.g.
# GRAINWEB_LOGGING_LEVEL=DEBUG or GRAINWEB_ADAPTERS_RPC_TRANSPORT=unix.
#
`

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a sample configuration to configPath, creating
// parent directories as needed.
func InitConfigToPath(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as commented YAML using the
// mapstructure key names Load expects.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var b yamlBuilder
	rpcCfg := cfg.Adapters.RPC

	root := b.mapping(
		field("logging", "Logging", b.mapping(
			field("level", "DEBUG, INFO, WARN or ERROR", cfg.Logging.Level),
			field("format", "text or json", cfg.Logging.Format),
			field("output", "stdout, stderr or a file path", cfg.Logging.Output),
		)),
		field("server", "Process", b.mapping(
			field("shutdown_timeout", "Maximum wait for graceful shutdown", cfg.Server.ShutdownTimeout.String()),
		)),
		field("app", "Application", b.mapping(
			field("client_dir", "Read-only tree served for every path outside var/", cfg.App.ClientDir),
		)),
		field("storage", "Store backing var/", b.mapping(
			field("type", "filesystem, memory, s3 or badger", cfg.Storage.Type),
			field("filesystem", "Directory holding var/ (created if missing)", cfg.Storage.Filesystem),
			field("memory", "Ephemeral; contents are lost on exit", cfg.Storage.Memory),
			field("s3", "Set bucket (and endpoint for MinIO/Localstack) when type is s3", cfg.Storage.S3),
			field("badger", "", cfg.Storage.Badger),
		)),
		field("gc", "Sweeper for staged uploads left behind by a crash", b.mapping(
			field("enabled", "", cfg.GC.Enabled),
			field("interval", "", cfg.GC.Interval.String()),
			field("max_age", "Staged uploads younger than this are left alone", cfg.GC.MaxAge.String()),
			field("dry_run", "Log instead of removing", cfg.GC.DryRun),
		)),
		field("metrics", "Prometheus endpoint (/metrics)", b.mapping(
			field("enabled", "", cfg.Metrics.Enabled),
			field("address", "", cfg.Metrics.Address),
		)),
		field("adapters", "Front ends", b.mapping(
			field("rpc", "Capability RPC", b.mapping(
				field("transport", "fd (launched by the host), unix or tcp", rpcCfg.Transport),
				field("fd", "Descriptor inherited from the host (fd transport)", rpcCfg.FD),
				field("address", "Socket path or host:port (unix and tcp transports)", rpcCfg.Address),
				field("max_connections", "0 is unlimited", rpcCfg.MaxConnections),
				field("max_message_size", "Bytes", rpcCfg.MaxMessageSize),
				field("idle_timeout", "0 disables", rpcCfg.IdleTimeout.String()),
				field("shutdown_timeout", "", rpcCfg.ShutdownTimeout.String()),
				field("rate_limit", "", b.mapping(
					field("requests_per_second", "0 disables limiting", rpcCfg.RateLimit.RequestsPerSecond),
					field("burst", "Defaults to requests_per_second", rpcCfg.RateLimit.Burst),
				)),
			)),
		)),
	)
	if b.err != nil {
		return "", b.err
	}

	out, err := yaml.Marshal(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}})
	if err != nil {
		return "", err
	}
	return configHeader + string(out), nil
}

type yamlField struct {
	key     string
	comment string
	value   any
}

func field(key, comment string, value any) yamlField {
	return yamlField{key: key, comment: comment, value: value}
}

// yamlBuilder assembles a node tree, keeping the first encoding error.
type yamlBuilder struct {
	err error
}

func (b *yamlBuilder) mapping(fields ...yamlField) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range fields {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: f.key, HeadComment: f.comment}
		node.Content = append(node.Content, key, b.value(f.key, f.value))
	}
	return node
}

func (b *yamlBuilder) value(key string, v any) *yaml.Node {
	if n, ok := v.(*yaml.Node); ok {
		return n
	}
	var node yaml.Node
	if err := node.Encode(v); err != nil && b.err == nil {
		b.err = fmt.Errorf("%s: %w", key, err)
	}
	return &node
}
