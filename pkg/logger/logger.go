package logger

import "log/slog"

var def *slog.Logger

// Init настраивает глобальный slog для процесса. Вызывается один раз из main.
func Init(cfg Config) {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "roomd"
	}
	cfg.InstanceID = ensureInstanceID(cfg.InstanceID)

	// Бекенд по умолчанию: читаемый текст в dev, zap в stage/prod
	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	h = h.WithAttrs(commonAttrs(cfg))

	base := slog.New(h)
	slog.SetDefault(base)
	def = base
}

// L returns the process logger, initializing a default one on first use.
func L() *slog.Logger {
	if def != nil {
		return def
	}

	Init(Config{})
	return def
}
