package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/types"
)

const (
	defaultAddr            = "localhost:3000"
	defaultPersistenceType = "buntdb"
	defaultDSN             = "conference.db"
	defaultCompactCron     = "@hourly"
	defaultSendBuffer      = 256
	defaultScheduleRule    = `User.Role == "admin"`
	defaultServerUrl       = "http://localhost:3000"
	defaultConfirmTimeout  = 5 * time.Second
	defaultLikedCacheSize  = 1024
	defaultBaseDelay       = time.Second
	defaultMaxDelay        = 5 * time.Second
	defaultMaxAttempts     = 3
)

// Config is the global configuration object which is filled via the configuration file, the environment and the
// command-line flags.
type Config struct {
	LogLevel            string              `mapstructure:"log_level"`
	ServerConfig        ServerConfig        `mapstructure:"server"`
	PersistenceConfig   PersistenceConfig   `mapstructure:"persistence"`
	HubConfig           HubConfig           `mapstructure:"hub"`
	AuthorizationConfig AuthorizationConfig `mapstructure:"authorization"`
	SyncConfig          SyncConfig          `mapstructure:"sync"`
	ChannelConfig       ChannelConfig       `mapstructure:"channel"`
	PollConfigs         []PollConfig        `mapstructure:"poll"`
}

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// PersistenceConfig configures the record store. Type is one of "buntdb", "memory", "sqlite" or "postgres". For
// buntdb and sqlite the DSN is a file path, for postgres a connection string.
type PersistenceConfig struct {
	Type        string `mapstructure:"type"`
	DSN         string `mapstructure:"dsn"`
	LockPath    string `mapstructure:"lock_path"`    // defaults to DSN + ".lock" for file-backed buntdb
	CompactCron string `mapstructure:"compact_cron"` // cron spec for store compaction, empty disables it
}

// HubConfig configures the broadcast hub.
type HubConfig struct {
	SendBuffer int `mapstructure:"send_buffer"` // per-session outbound buffer, events are dropped when it is full
}

// AuthorizationConfig holds the expr rules evaluated against the calling user.
type AuthorizationConfig struct {
	ScheduleRule string `mapstructure:"schedule_rule"`
}

// SyncConfig configures the client-side sync coordinator.
type SyncConfig struct {
	ServerUrl      string        `mapstructure:"server_url"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	LikedCacheSize int           `mapstructure:"liked_cache_size"`
}

// ChannelConfig configures the reconnect behaviour of the client realtime channel.
type ChannelConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// A PollConfig block defines a poll that is seeded into an empty store.
type PollConfig struct {
	Id       int64    `mapstructure:"id"`
	Question string   `mapstructure:"question"`
	Options  []string `mapstructure:"options"`
	Coins    int64    `mapstructure:"coins"`
}

// Polls returns the configured seed polls, or the default polls if none are configured.
func (c *Config) Polls() []types.Poll {
	if len(c.PollConfigs) == 0 {
		return types.DefaultPolls()
	}
	polls := make([]types.Poll, 0, len(c.PollConfigs))
	for _, pc := range c.PollConfigs {
		polls = append(polls, types.Poll{
			Id:          pc.Id,
			Question:    pc.Question,
			Options:     pc.Options,
			CompletedBy: types.JSONInt64Slice{},
			Coins:       pc.Coins,
		})
	}
	return polls
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	flagSet.String("server-url", "", "base url of the conference server (client only)")
	flagSet.String("persistence-type", "", "record store type (buntdb, memory, sqlite, postgres)")
	flagSet.String("persistence-dsn", "", "record store path or connection string")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "INFO")
	v.SetDefault("server.addr", defaultAddr)
	v.SetDefault("persistence.type", defaultPersistenceType)
	v.SetDefault("persistence.dsn", defaultDSN)
	v.SetDefault("persistence.compact_cron", defaultCompactCron)
	v.SetDefault("hub.send_buffer", defaultSendBuffer)
	v.SetDefault("authorization.schedule_rule", defaultScheduleRule)
	v.SetDefault("sync.server_url", defaultServerUrl)
	v.SetDefault("sync.confirm_timeout", defaultConfirmTimeout)
	v.SetDefault("sync.liked_cache_size", defaultLikedCacheSize)
	v.SetDefault("channel.base_delay", defaultBaseDelay)
	v.SetDefault("channel.max_delay", defaultMaxDelay)
	v.SetDefault("channel.max_attempts", defaultMaxAttempts)
}

// bindFlags maps the flat flag names onto the nested configuration keys.
func bindFlags(v *viper.Viper, flagSet *pflag.FlagSet) {
	keys := map[string]string{
		"log_level":        "log_level",
		"server_url":       "sync.server_url",
		"persistence_type": "persistence.type",
		"persistence_dsn":  "persistence.dsn",
	}
	for flagName, key := range keys {
		flag := flagSet.Lookup(flagName)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			globals.AppLogger.Error("could not bind flag (ignored)", "flag", flagName, "error", err)
		}
	}
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. A .env file in the
// working directory is loaded into the environment first. It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		globals.AppLogger.Warn("could not load .env file (ignored)", "error", err)
	}

	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		bindFlags(v, flagSet)
	}
	v.SetEnvPrefix("LSCONF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}
