package bootstrap

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"argus/config"
)

// InitLogger builds the console logger used by every component. The returned
// atomic level starts at Info and is raised or lowered once the config has
// been loaded.
func InitLogger() (*zap.Logger, *zap.SugaredLogger, zap.AtomicLevel) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), level
}

// InitConfig loads the application configuration.
func InitConfig(sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// ApplyLogLevel adjusts the logger to the configured level.
func ApplyLogLevel(level zap.AtomicLevel, cfg *config.Config, sugar *zap.SugaredLogger) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		sugar.Warnw("Unknown log level, keeping info", "level", cfg.Logging.Level)
		return
	}
	level.SetLevel(zl)
}
