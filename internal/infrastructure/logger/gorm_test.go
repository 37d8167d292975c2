package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormLogger_Trace(t *testing.T) {
	sql := func() (string, int64) { return "SELECT * FROM sync_queues", 3 }
	ctx := WithQueueID(context.Background(), "queue-1")

	tests := []struct {
		name    string
		level   gormlogger.LogLevel
		elapsed time.Duration
		err     error
		wantMsg string
	}{
		{"error logged", gormlogger.Warn, 0, errors.New("deadlock"), "SQL error"},
		{"not found ignored", gormlogger.Warn, 0, gormlogger.ErrRecordNotFound, ""},
		{"slow statement warned", gormlogger.Warn, time.Second, nil, "Slow SQL"},
		{"fast statement hidden at warn", gormlogger.Warn, 0, nil, ""},
		{"fast statement at info", gormlogger.Info, 0, nil, "SQL"},
		{"silent logs nothing", gormlogger.Silent, time.Second, errors.New("x"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, recorded := observer.New(zapcore.DebugLevel)
			l := NewGormLogger(zap.New(core), tt.level)

			l.Trace(ctx, time.Now().Add(-tt.elapsed), sql, tt.err)

			if tt.wantMsg == "" {
				assert.Zero(t, recorded.Len())
				return
			}
			entries := recorded.All()
			if assert.Len(t, entries, 1) {
				assert.Equal(t, tt.wantMsg, entries[0].Message)
				assert.Equal(t, "queue-1", entries[0].ContextMap()["queue_id"])
			}
		})
	}
}

func TestGormLogger_LogModeCopies(t *testing.T) {
	l := NewGormLogger(zap.NewNop(), gormlogger.Warn)
	quiet := l.LogMode(gormlogger.Silent)

	assert.Equal(t, gormlogger.Warn, l.logLevel)
	assert.Equal(t, gormlogger.Silent, quiet.(*GormLogger).logLevel)
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("unknown"))
}
