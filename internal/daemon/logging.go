package daemon

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewRotatingLogger returns a logger writing to a size-rotated file.
// Used when the log_file setting is set, so a long-lived daemon never
// fills the disk.
func NewRotatingLogger(path, prefix string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}, prefix, log.LstdFlags)
}
