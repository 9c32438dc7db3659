// Package application bootstraps a coedit process: it resolves and loads the
// configuration file, initializes logging and exposes typed config sections.
package application

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/coedit-go/internal/client/blink"
	"github.com/lk2023060901/coedit-go/internal/client/marker"
	"github.com/lk2023060901/coedit-go/internal/client/scheduler"
	"github.com/lk2023060901/coedit-go/internal/server"
	zlog "github.com/lk2023060901/coedit-go/pkg/log"
	zviper "github.com/lk2023060901/coedit-go/pkg/util/viper"
)

const (
	defaultConfigPath = "./config.yaml"
	envPrefix         = "COEDIT"
	envConfigPath     = "COEDIT_CONFIG_FILE_PATH"
)

// LogEnv holds the process-wide logger settings read from COEDIT_LOG_* env vars.
type LogEnv struct {
	Enable  bool   `env:"COEDIT_LOG_ENABLE" envDefault:"false"`
	Level   string `env:"COEDIT_LOG_LEVEL" envDefault:"info"`
	Stdout  bool   `env:"COEDIT_LOG_STDOUT" envDefault:"false"`
	FileDir string `env:"COEDIT_LOG_FILE_DIR"`
	File    string `env:"COEDIT_LOG_FILE"`
	Format  string `env:"COEDIT_LOG_FORMAT" envDefault:"text"`
}

// ClientConfig is the "client" section of the configuration file.
type ClientConfig struct {
	URL           string        `mapstructure:"url"`
	Debounce      time.Duration `mapstructure:"debounce"`
	BlinkInterval time.Duration `mapstructure:"blinkInterval"`
	DialAttempts  uint          `mapstructure:"dialAttempts"`
	// Order selects how foreign carets are spliced: "participant" or "rightmost".
	Order string `mapstructure:"order"`
}

// MarkerOrder maps Order to the caret splice policy; unknown values fall back
// to the participant order.
func (c ClientConfig) MarkerOrder() marker.Order {
	switch strings.ToLower(strings.TrimSpace(c.Order)) {
	case "rightmost", "rightmost-first":
		return marker.OrderRightmostFirst
	default:
		return marker.OrderParticipant
	}
}

type sections struct {
	Server server.Config `mapstructure:"server"`
	Client ClientConfig  `mapstructure:"client"`
}

// Application is the runtime container for a coedit process.
// It owns configuration and the named loggers.
type Application struct {
	args    []string
	cfg     *zviper.Config
	loggers map[string]*zlog.MLogger
}

// Option customizes an Application.
type Option func(*Application)

// WithArgs replaces os.Args[1:] as the command line to parse.
func WithArgs(args []string) Option {
	return func(a *Application) {
		a.args = args
	}
}

// New creates a new Application instance.
func New(opts ...Option) *Application {
	a := &Application{args: os.Args[1:]}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run loads the configuration and initializes logging.
//
// The config file path is resolved with the following priority:
//  1. Default: ./config.yaml (optional, defaults apply when absent)
//  2. Env: COEDIT_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
//
// Every key can also be overridden by env, e.g. COEDIT_SERVER_LISTEN.
func (a *Application) Run() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	return a.initLogging()
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// ServerConfig returns the "server" section merged over server.DefaultConfig.
func (a *Application) ServerConfig() (server.Config, error) {
	s, err := a.sections()
	return s.Server, err
}

// ClientConfig returns the "client" section merged over the client defaults.
func (a *Application) ClientConfig() (ClientConfig, error) {
	s, err := a.sections()
	return s.Client, err
}

func (a *Application) sections() (sections, error) {
	s := sections{Server: server.DefaultConfig(), Client: DefaultClientConfig()}
	if a.cfg == nil {
		return s, nil
	}
	if err := a.cfg.Unmarshal(&s); err != nil {
		return s, errors.Wrap(err, "decode config sections")
	}
	return s, nil
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:           "ws://localhost:8081/",
		Debounce:      scheduler.DefaultWindow,
		BlinkInterval: blink.DefaultInterval,
		DialAttempts:  5,
		Order:         "participant",
	}
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// configPath resolves the config file path; explicit reports whether it was
// given by env or CLI rather than falling back to the default.
func (a *Application) configPath() (path string, explicit bool, err error) {
	path = defaultConfigPath
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		path, explicit = envPath, true
	}

	for i := 0; i < len(a.args); i++ {
		arg := a.args[i]
		if arg == "--config" {
			if i+1 >= len(a.args) {
				return "", false, errors.New("missing value after --config")
			}
			path, explicit = a.args[i+1], true
			i++
			continue
		}
		if val, ok := strings.CutPrefix(arg, "--config="); ok && val != "" {
			path, explicit = val, true
		}
	}
	return path, explicit, nil
}

// loadConfig registers defaults and env overrides, then loads the config file.
func (a *Application) loadConfig() (*zviper.Config, error) {
	path, explicit, err := a.configPath()
	if err != nil {
		return nil, err
	}

	cfg := zviper.New()
	setDefaults(cfg)
	cfg.AutomaticEnv(envPrefix)

	if _, statErr := os.Stat(path); statErr != nil && errors.Is(statErr, fs.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err := cfg.LoadFile(path); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", path)
	}
	return cfg, nil
}

func setDefaults(cfg *zviper.Config) {
	sd := server.DefaultConfig()
	cfg.SetDefault("server.listen", sd.Listen)
	cfg.SetDefault("server.path", sd.Path)
	cfg.SetDefault("server.maxConnections", sd.MaxConnections)
	cfg.SetDefault("server.sendQueueSize", sd.SendQueueSize)
	cfg.SetDefault("server.readLimit", sd.ReadLimit)
	cfg.SetDefault("server.writeTimeout", sd.WriteTimeout)
	cfg.SetDefault("server.serializer", sd.Serializer)
	cfg.SetDefault("server.metrics", sd.Metrics)

	cd := DefaultClientConfig()
	cfg.SetDefault("client.url", cd.URL)
	cfg.SetDefault("client.debounce", cd.Debounce)
	cfg.SetDefault("client.blinkInterval", cd.BlinkInterval)
	cfg.SetDefault("client.dialAttempts", cd.DialAttempts)
	cfg.SetDefault("client.order", cd.Order)
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// LoadLogEnv parses the COEDIT_LOG_* env vars.
func LoadLogEnv() (LogEnv, error) {
	var le LogEnv
	if err := env.Parse(&le); err != nil {
		return le, fmt.Errorf("parse env: %w", err)
	}
	return le, nil
}

// initGlobalLoggerFromEnv configures the process-wide logger based on COEDIT_LOG_* env vars.
// When COEDIT_LOG_ENABLE is not set, all outputs go to a discarded sink.
func (a *Application) initGlobalLoggerFromEnv() error {
	le, err := LoadLogEnv()
	if err != nil {
		return err
	}

	cfg := &zlog.Config{
		Level:               le.Level,
		Format:              le.Format,
		Stdout:              le.Stdout,
		DisableErrorVerbose: true,
		File: zlog.FileLogConfig{
			RootPath: le.FileDir,
			Filename: le.File,
		},
	}
	if !le.Enable {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init global logger from env: %w", err)
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from the "logging" section.
//
// Example:
//
//	logging:
//	  hub:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: hub.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil || !a.cfg.IsSet("logging") {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return fmt.Errorf("init module logger %q: %w", name, err)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}
	return nil
}
