package common

import (
	"bytes"
	"github.com/lni/dragonboat/v4/logger"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	old := LogOutput
	LogOutput = &buf
	defer func() { LogOutput = old }()

	l := CreateLogger("cache")
	l.SetLevel(logger.WARNING)

	l.Infof("hit page %d", 1)
	l.Debugf("miss page %d", 2)
	assert.Empty(t, buf.String())

	l.Warningf("write-back of page %d failed", 3)
	assert.Contains(t, buf.String(), "WARN  | cache           | write-back of page 3 failed")
}

func TestLoggerPanicf(t *testing.T) {
	var buf bytes.Buffer
	old := LogOutput
	LogOutput = &buf
	defer func() { LogOutput = old }()

	l := CreateLogger("pool")
	assert.PanicsWithValue(t, "broken invariant 7", func() {
		l.Panicf("broken invariant %d", 7)
	})
	assert.Contains(t, buf.String(), "PANIC")
}
