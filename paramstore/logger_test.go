// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package paramstore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestLogger_LogMode(t *testing.T) {
	l := NewLogger(zerolog.Nop())
	assert.Equal(t, zerolog.Disabled, l.LogMode(gormlogger.Silent).(Logger).GetLevel())
	assert.Equal(t, zerolog.WarnLevel, l.LogMode(gormlogger.Warn).(Logger).GetLevel())
	assert.Equal(t, zerolog.TraceLevel, l.LogMode(gormlogger.Info+1).(Logger).GetLevel())
}

func TestLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(zerolog.New(&buf).Level(zerolog.ErrorLevel))
	query := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), query, nil)
	assert.Empty(t, buf.String())

	l.Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	l.Trace(context.Background(), time.Now(), query, errors.New("boom"))
	assert.Contains(t, buf.String(), `"sql":"SELECT 1"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
	assert.Contains(t, buf.String(), `"message":"snapshot query failed"`)
}

func TestLogger_TraceMissingSnapshot(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))
	query := func() (string, int64) { return "SELECT * FROM models", 0 }

	l.Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), `"message":"snapshot not found"`)
}

func TestTruncateStatement(t *testing.T) {
	assert.Equal(t, "SELECT 1", truncateStatement("SELECT 1"))

	long := strings.Repeat("x", maxStatementLength+10)
	got := truncateStatement(long)
	assert.True(t, strings.HasPrefix(got, long[:maxStatementLength]))
	assert.True(t, strings.HasSuffix(got, "... (266 bytes)"))
}
