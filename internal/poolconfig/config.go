// Package poolconfig loads the admin daemon's tunables: where samples live
// on disk, the collector's sweep period, and the pool/registry defaults a
// new FilePool is built with.
package poolconfig

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	appdefaults "github.com/KKQ-KKQ/sfizz/config"
	"github.com/KKQ-KKQ/sfizz/internal/logger"
)

// Config is the full set of tunables for the filepool daemon.
type Config struct {
	RootDir  string `mapstructure:"-"`
	HTTPAddr string `mapstructure:"http_addr"`

	FileClearingPeriodSeconds int `mapstructure:"file_clearing_period_seconds"`
	DefaultPreloadSize        int `mapstructure:"default_preload_size"`
	DefaultQueueCapacity      int `mapstructure:"default_queue_capacity"`
	DefaultNumLoaderThreads   int `mapstructure:"default_num_loader_threads"`

	Log logger.Config `mapstructure:"log"`
}

// FileClearingPeriod is FileClearingPeriodSeconds as a time.Duration.
func (c Config) FileClearingPeriod() time.Duration {
	return time.Duration(c.FileClearingPeriodSeconds) * time.Second
}

// Load reads the embedded defaults, then an optional conf.yaml found by
// walking up from the working directory, then environment overrides
// prefixed FILEPOOL_.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}
	return load(rootDir, "")
}

// LoadConfig loads from an explicit config file path instead of discovering
// one relative to the working directory.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}
	rootDir := strings.TrimSpace(os.Getenv("FILEPOOL_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
	}
	return load(rootDir, absPath)
}

func load(rootDir, explicitConfigFile string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("http_addr", "")
	v.SetDefault("file_clearing_period_seconds", 10)
	v.SetDefault("default_preload_size", 65536)
	v.SetDefault("default_queue_capacity", 256)
	v.SetDefault("default_num_loader_threads", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "filepoold.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetEnvPrefix("filepool")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitConfigFile != "" {
		v.SetConfigFile(explicitConfigFile)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, err
		}
	} else {
		v.SetConfigName("conf")
		v.AddConfigPath(rootDir)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)

	return cfg, nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	cfg.HTTPAddr = net.JoinHostPort("", strconv.Itoa(8201))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("FILEPOOL_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
