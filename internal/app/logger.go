package app

import (
	"os"
	"strings"

	"github.com/charlesng35/studyhub/pkg/logger"
)

// ConfigureLogging initialises the global logger for the named service. The level
// defaults to info; STUDYHUB_LOG_FORMAT=console switches to the development encoder.
func ConfigureLogging(level, service string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	return logger.InitWithOptions(logger.Options{
		Level:       level,
		Service:     service,
		Development: strings.EqualFold(os.Getenv("STUDYHUB_LOG_FORMAT"), "console"),
	})
}
