// Package log adds logging utilities.
package log

import (
	"strings"
	"time"

	"fathom/internal/pkg/sequence"
	"fathom/internal/pkg/wire"

	"github.com/sirupsen/logrus"
)

// SetLogger sets the default logger's level.
func SetLogger(level string) {
	logrus.SetLevel(logrus.ErrorLevel)
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = time.RFC3339
	logrus.SetFormatter(customFormatter)
	customFormatter.FullTimestamp = true
	switch strings.ToLower(level) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.ErrorLevel)
	}
}

// PacketFields summarises a received payload for structured logging.
func PacketFields(class wire.PacketClass, size int) logrus.Fields {
	return logrus.Fields{
		"class": class.String(),
		"size":  size,
	}
}

// StreamFields summarises the sync state of a sequenced stream.
func StreamFields(name string, lastSent, lastAcked sequence.ID) logrus.Fields {
	return logrus.Fields{
		"stream":    name,
		"lastSent":  uint16(lastSent),
		"lastAcked": uint16(lastAcked),
	}
}
