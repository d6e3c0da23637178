package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrMissingPath    = errors.New("path of the document is not set")
	ErrInvalidBackend = errors.New("invalid backend")
	ErrInvalidFormat  = errors.New("invalid output format")
	ErrInvalidSchema  = errors.New("root and tag must be set")
	ErrMissingURL     = errors.New("http.url is not set")
	ErrMissingBucket  = errors.New("minio.bucket and minio.endpoint must be set")
	ErrMissingSFTP    = errors.New("sftp.user, sftp.addr and sftp.root must be set")
)

const (
	backendDir   = "dir"
	backendHTTP  = "http"
	backendMinio = "minio"
	backendSFTP  = "sftp"

	formatJSON = "json"
	formatYAML = "yaml"
	formatTOON = "toon"
	formatSpew  = "spew"
	formatTable = "table"
)

// Config is read from xmlstore.yaml, XMLSTORE_* environment variables
// and command line flags, in increasing priority.
type Config struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	Path      string `mapstructure:"path"`
	Root      string `mapstructure:"root"`
	Container string `mapstructure:"container"`
	Tag       string `mapstructure:"tag"`
	Format    string `mapstructure:"format"`
	// if set, logs are also written to daily files in this directory
	LogDir  string `mapstructure:"log_dir"`
	Verbose bool   `mapstructure:"verbose"`

	HTTP  HTTPConfig  `mapstructure:"http"`
	Minio MinioConfig `mapstructure:"minio"`
	SFTP  SFTPConfig  `mapstructure:"sftp"`
}

type HTTPConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MinioConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Prefix   string `mapstructure:"prefix"`
	Access   string `mapstructure:"access"`
	Secret   string `mapstructure:"secret"`
	Insecure bool   `mapstructure:"insecure"`
}

type SFTPConfig struct {
	User     string `mapstructure:"user"`
	Addr     string `mapstructure:"addr"`
	KeyPath  string `mapstructure:"key_path"`
	Password string `mapstructure:"password"`
	Root     string `mapstructure:"root"`
}

// loadConfig loads configuration from configPath (or xmlstore.yaml in
// the current directory), the environment and the flags of cmd
func loadConfig(configPath string, cmd *cobra.Command) (*Config, error) {
	viperCfg := viper.New()
	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("xmlstore")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
	}

	viperCfg.SetEnvPrefix("XMLSTORE")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		for _, name := range []string{"backend", "dir", "path", "format", "verbose"} {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := viperCfg.BindPFlag(name, f); err != nil {
					return nil, err
				}
			}
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config
	if err := viperCfg.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("backend", backendDir)
	viperCfg.SetDefault("dir", ".")
	viperCfg.SetDefault("path", "store.xml")
	viperCfg.SetDefault("root", "store")
	viperCfg.SetDefault("container", "items")
	viperCfg.SetDefault("tag", "item")
	viperCfg.SetDefault("format", formatJSON)
	viperCfg.SetDefault("verbose", false)
	viperCfg.SetDefault("http.timeout", "30s")
	viperCfg.SetDefault("minio.region", "auto")
	viperCfg.SetDefault("minio.insecure", false)

	// keys must be known to viper for environment variables to apply
	for _, key := range []string{
		"log_dir",
		"http.url", "http.api_key",
		"minio.endpoint", "minio.bucket", "minio.prefix", "minio.access", "minio.secret",
		"sftp.user", "sftp.addr", "sftp.key_path", "sftp.password", "sftp.root",
	} {
		viperCfg.SetDefault(key, "")
	}
}

func validateConfig(config *Config) error {
	if config.Path == "" {
		return ErrMissingPath
	}
	if config.Root == "" || config.Tag == "" {
		return ErrInvalidSchema
	}
	switch config.Format {
	case formatJSON, formatYAML, formatTOON, formatSpew, formatTable:
	default:
		return fmt.Errorf("%w: '%s'", ErrInvalidFormat, config.Format)
	}
	switch config.Backend {
	case backendDir:
	case backendHTTP:
		if config.HTTP.URL == "" {
			return ErrMissingURL
		}
	case backendMinio:
		if config.Minio.Bucket == "" || config.Minio.Endpoint == "" {
			return ErrMissingBucket
		}
	case backendSFTP:
		s := config.SFTP
		if s.User == "" || s.Addr == "" || s.Root == "" {
			return ErrMissingSFTP
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrInvalidBackend, config.Backend)
	}
	return nil
}
