package utils

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Log is the shared application logger.
var Log = logrus.New()

func init() {
	Log.SetOutput(os.Stdout)
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	Log.SetLevel(logrus.InfoLevel)
}

// InitLogger applies the configured level and format to the shared logger.
// Unknown values keep the defaults (info, text).
func InitLogger(level, format string) {
	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		Log.SetLevel(lvl)
	}

	if strings.EqualFold(format, "json") {
		Log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	}
}
