// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestCategory(t *testing.T) {
	r := require.New(t)
	r.Same(Std(), Std())

	hook := test.NewLocal(Std())
	defer hook.Reset()

	Category("metarpc.wire").WithField("status", "ok").Warn("decode failed")
	entry := hook.LastEntry()
	r.NotNil(entry)
	r.Equal(logrus.WarnLevel, entry.Level)
	r.Equal("decode failed", entry.Message)
	r.Equal("metarpc.wire", entry.Data[CategoryKey])
	r.Equal("ok", entry.Data["status"])
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"loud", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, levelFromString(tt.in))
		})
	}
}
