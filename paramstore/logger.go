// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paramstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Logger routes the snapshot store's gorm messages and SQL traces to zerolog.
type Logger struct {
	zerolog.Logger
}

var _ gormlogger.Interface = Logger{}

// NewLogger tags every record of parent with the paramstore component.
func NewLogger(parent zerolog.Logger) Logger {
	return Logger{Logger: parent.With().Str("component", "paramstore").Logger()}
}

var gormToZeroLogLevel = map[gormlogger.LogLevel]zerolog.Level{
	gormlogger.Silent: zerolog.Disabled,
	gormlogger.Error:  zerolog.ErrorLevel,
	gormlogger.Warn:   zerolog.WarnLevel,
	gormlogger.Info:   zerolog.InfoLevel,
}

func (l Logger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	var zeroLevel zerolog.Level
	switch {
	case level < gormlogger.Silent:
		zeroLevel = zerolog.Disabled
	case level > gormlogger.Info:
		zeroLevel = zerolog.TraceLevel
	default:
		zeroLevel = gormToZeroLogLevel[level]
	}
	return Logger{Logger: l.Logger.Level(zeroLevel)}
}

func (l Logger) Info(_ context.Context, msg string, data ...any) {
	l.Logger.Info().Msgf(msg, data...)
}

func (l Logger) Warn(_ context.Context, msg string, data ...any) {
	l.Logger.Warn().Msgf(msg, data...)
}

func (l Logger) Error(_ context.Context, msg string, data ...any) {
	l.Logger.Error().Msgf(msg, data...)
}

// Trace logs failed snapshot queries at Error and every other query at Trace.
// A lookup of a missing snapshot is reported by Load as ErrNotFound, so it is
// logged at Debug. Statements carry the encoded snapshot, so they are cut to
// maxStatementLength.
func (l Logger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	level := zerolog.TraceLevel
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		level = zerolog.DebugLevel
	case err != nil:
		level = zerolog.ErrorLevel
	}
	if l.GetLevel() > level {
		return
	}
	sql, rows := fc()
	e := l.WithLevel(level).Str("sql", truncateStatement(sql)).Int64("rows", rows).Dur("elapsed", time.Since(begin))
	switch level {
	case zerolog.ErrorLevel:
		e.Err(err).Msg("snapshot query failed")
	case zerolog.DebugLevel:
		e.Msg("snapshot not found")
	default:
		e.Msg("snapshot query")
	}
}

const maxStatementLength = 256

func truncateStatement(sql string) string {
	if len(sql) <= maxStatementLength {
		return sql
	}
	return fmt.Sprintf("%s... (%d bytes)", sql[:maxStatementLength], len(sql))
}
