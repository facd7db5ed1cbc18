package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string `env:"TOKEN,required"`
		ClashAPIToken    string `env:"CLASH_TOKEN,required"`
		ClashAPIBaseURL  string `env:"CLASH_API_URL,default=https://api.clashofclans.com/v1"`
		DefaultLanguage  string `env:"LANG,default=en"`
		LogLevel         int    `env:"LOG_LEVEL,default=4"`
		DotPath          string `env:"DOT_PATH,default=~/.cwbot"`
		MetricsAddr      string `env:"METRICS_ADDR,default=:2112"`
		RateLimit        RateLimit
		WarNotify        WarNotify
	}

	RateLimit struct {
		SpamWindow     time.Duration `env:"SPAM_WINDOW,default=10s"`
		SpamThreshold  int           `env:"SPAM_THRESHOLD,default=4"`
		ViolationTTL   time.Duration `env:"VIOLATION_TTL,default=720h"`
		IgnoreCommands []string      `env:"IGNORE_COMMANDS,default=start,help"`
	}

	WarNotify struct {
		PollInterval time.Duration `env:"WAR_POLL_INTERVAL,default=5m"`
		FetchTimeout time.Duration `env:"WAR_FETCH_TIMEOUT,default=10s"`
		ReminderMin  time.Duration `env:"WAR_REMINDER_MIN,default=5h30m"`
		ReminderMax  time.Duration `env:"WAR_REMINDER_MAX,default=6h30m"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("CW_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
