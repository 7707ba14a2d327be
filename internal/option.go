package internal

import "log/slog"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logger *slog.Logger
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the JSON stdout logger built from app.log_level.
// The MCP transport owns stdout, so the mcp command logs to stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}

func (a *application) init() error {
	if a.config == nil {
		return errConfigRequired
	}
	if a.logger == nil {
		a.logger = NewLogger(a.config.App.LogLevel, nil)
	}
	slog.SetDefault(a.logger)
	return nil
}
