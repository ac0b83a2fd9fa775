package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		EnabledHandlers  []string `env:"HANDLERS,default=moderation,gatekeeper"`
		LogLevel         int      `env:"LOG_LEVEL,default=2"`
		DotPath          string   `env:"DOT_PATH,default=~/.warden"`
		DBPath           string   `env:"DB_PATH,default=warden.db"`
		MetricsAddr      string   `env:"METRICS_ADDR,default=:2112"`

		// ExemptUserIDs are always treated as exempt from enforcement, on
		// top of chat admins and owners.
		ExemptUserIDs []int64 `env:"EXEMPT_USER_IDS"`

		Flood        Flood
		Verification Verification
	}

	Flood struct {
		// IdleWindow resets a chat's burst counter after this much
		// wall-clock inactivity, so slow conversations are never punished.
		IdleWindow time.Duration `env:"FLOOD_IDLE_WINDOW,default=4s"`
	}

	Verification struct {
		ChallengeWindow time.Duration `env:"CHALLENGE_WINDOW,default=120s"`
		RejectTimeout   time.Duration `env:"REJECT_TIMEOUT,default=10m"`
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
			Lookuper: envconfig.PrefixLookuper("WD_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		dotPath, err := homedir.Expand(cfg.DotPath)
		if err != nil {
			globalErr = fmt.Errorf("expand dot path: %w", err)
			return
		}
		if err := os.MkdirAll(dotPath, os.ModePerm); err != nil {
			globalErr = fmt.Errorf("create work dir: %w", err)
			return
		}
		cfg.DotPath = dotPath
		if !filepath.IsAbs(cfg.DBPath) {
			cfg.DBPath = filepath.Join(dotPath, cfg.DBPath)
		}
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
