// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package log provides the categorised process logger shared by all
// runtime components.
package log

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/luxfi/metarpc/config"
)

// CategoryKey is the field carrying the log category.
const CategoryKey = "category"

var (
	stdLogger *logrus.Logger
	once      sync.Once
)

// Std returns the process logger, configured from config.Get() on first use.
func Std() *logrus.Logger {
	once.Do(func() {
		stdLogger = logrus.New()
		stdLogger.SetOutput(os.Stderr)
		cfg := config.Get()
		if cfg != nil && cfg.Log != nil {
			stdLogger.SetLevel(levelFromString(cfg.Log.Level))
			switch cfg.Log.Format {
			case "json":
				stdLogger.SetFormatter(&logrus.JSONFormatter{})
			default:
				stdLogger.SetFormatter(&logrus.TextFormatter{})
			}
		}
	})
	return stdLogger
}

// Category returns an entry tagged with the given category.
func Category(name string) *logrus.Entry {
	return Std().WithField(CategoryKey, name)
}

func levelFromString(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
