package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "amiga-rsp"
	envPrefix  = "AMIGA_RSP"
)

// Config amiga-rsp的配置，命令行参数优先于配置文件和环境变量
type Config struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Timeout     time.Duration `mapstructure:"timeout"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFile     string        `mapstructure:"log_file"`
	StopOnEntry bool          `mapstructure:"stop_on_entry"`
	Program     string        `mapstructure:"program"`
}

// Default fs-uae调试桩的默认地址
func Default() *Config {
	return &Config{
		Host:        "localhost",
		Port:        6860,
		Timeout:     10 * time.Second,
		LogLevel:    "info",
		StopOnEntry: true,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("stop_on_entry", cfg.StopOnEntry)
	v.SetDefault("program", cfg.Program)
	return v
}

// Load 从 /etc/amiga-rsp/、用户配置目录、当前目录 依次查找amiga-rsp.yaml，再读取AMIGA_RSP_前缀的环境变量
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join("/etc", configName))
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, configName))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return unmarshal(v)
}

// LoadFromFile 读取指定的配置文件
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
