package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/weird/internal/paths"
	"github.com/mesh-intelligence/weird/pkg/types"
	"github.com/mesh-intelligence/weird/pkg/weird"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "WEIRD"

	cfgKeyBackend         = "backend"
	cfgKeyDataDir         = "data_dir"
	cfgKeyDomain          = "domain"
	cfgKeyNamespaceSecret = "namespace_secret"
	cfgKeyLogLevel        = "log_level"
	cfgKeyNameservers     = "nameservers"

	defaultBackend = types.BackendSQLite
)

// configFile holds the structure written to config.yaml.
type configFile struct {
	Backend         string   `yaml:"backend"`
	DataDir         string   `yaml:"data_dir,omitempty"`
	Domain          string   `yaml:"domain,omitempty"`
	NamespaceSecret string   `yaml:"namespace_secret,omitempty"`
	LogLevel        string   `yaml:"log_level,omitempty"`
	Nameservers     []string `yaml:"nameservers,omitempty"`
}

// settings is the resolved configuration of one invocation.
type settings struct {
	ConfigDir       string
	DataDir         string
	Backend         string
	Domain          string
	NamespaceSecret string
	LogLevel        string
	Nameservers     []string
}

// loadSettings reads config.yaml from the resolved config directory with
// WEIRD_* environment overrides. A missing config.yaml is not an error.
func loadSettings(f rootFlags) (settings, error) {
	configDir, err := paths.ResolveConfigDir(f.configDir)
	if err != nil {
		return settings{}, fmt.Errorf("resolve config dir: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault(cfgKeyBackend, defaultBackend)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	dataDir, err := paths.ResolveDataDir(f.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return settings{}, fmt.Errorf("resolve data dir: %w", err)
	}
	s := settings{
		ConfigDir:       configDir,
		DataDir:         dataDir,
		Backend:         v.GetString(cfgKeyBackend),
		Domain:          v.GetString(cfgKeyDomain),
		NamespaceSecret: v.GetString(cfgKeyNamespaceSecret),
		LogLevel:        v.GetString(cfgKeyLogLevel),
		Nameservers:     v.GetStringSlice(cfgKeyNameservers),
	}
	if f.logLevel != "" {
		s.LogLevel = f.logLevel
	}
	return s, nil
}

// storeConfig returns the document store configuration.
func (s settings) storeConfig() types.Config {
	return types.Config{Backend: s.Backend, DataDir: s.DataDir}
}

// readConfigFile loads config.yaml as written by init. A missing file reads
// as the zero configFile.
func readConfigFile(path string) (configFile, error) {
	var cfg configFile
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func writeConfigFile(path string, cfg configFile) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFileAtomic(path, data, 0o600)
}

// openInstance opens the configured instance. Without a namespace secret it
// prints a freshly generated one for the operator to configure and fails.
func (e *env) openInstance(ctx context.Context) (*weird.Weird, error) {
	s := e.settings
	if s.Domain == "" {
		return nil, userError("no domain configured: set %s in %s or %s_DOMAIN",
			cfgKeyDomain, paths.ConfigFile(s.ConfigDir), envPrefix)
	}
	if s.NamespaceSecret == "" {
		secret, err := types.NewNamespaceSecret()
		if err != nil {
			return nil, sysError("generate namespace secret: %w", err)
		}
		return nil, userError("no namespace secret configured; set %s to this new secret:\n%s",
			cfgKeyNamespaceSecret, secret)
	}
	secret, err := types.ParseNamespaceSecret(s.NamespaceSecret)
	if err != nil {
		return nil, userError("%s: %w", cfgKeyNamespaceSecret, err)
	}

	w, err := weird.Open(ctx, s.storeConfig(), secret, s.Domain,
		weird.WithLogger(e.logger),
		weird.WithResolver(weird.NewDNSResolver(s.Nameservers...)))
	if err != nil {
		return nil, sysError("open instance: %w", err)
	}
	return w, nil
}
