package logger

import (
	"log/slog"
	"os"
	"strings"
)

type Backend string

const (
	BackendStd Backend = "std" // text handler, для локальной отладки
	BackendZap Backend = "zap" // JSON через slog-zap, для stage/prod
)

type Env string

const (
	EnvDev   Env = "dev"
	EnvStage Env = "stage"
	EnvProd  Env = "prod"
)

type Config struct {
	// Метаданные процесса
	Service    string
	Version    string
	InstanceID string

	// Управление выводом
	Level   slog.Level
	Env     Env
	Backend Backend
	Debug   bool

	// Zap sampling (защита от всплесков, например при шторме discovery-проб)
	SampleInitial    int
	SampleThereafter int

	AddSource bool
}

func DetectEnv() Env {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))

	switch raw {
	case "prod", "production":
		return EnvProd
	case "stage", "staging", "preprod", "pre-production":
		return EnvStage
	default:
		return EnvDev
	}
}

// resolveLevel: Debug поднимает уровень только если Level не задан явно.
func resolveLevel(cfg Config) slog.Level {
	if cfg.Debug && cfg.Level == 0 {
		return slog.LevelDebug
	}
	return cfg.Level
}
