package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetLevelDefaultsToInfoOnBadInput(t *testing.T) {
	l := logrus.New()
	SetLevel(l, "not-a-level")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestSetLevelParsesKnownLevel(t *testing.T) {
	l := logrus.New()
	SetLevel(l, "debug")
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
}

func TestFormatIncludesFieldsSorted(t *testing.T) {
	l := logrus.New()
	l.SetFormatter(NewFormatter())
	entry := &logrus.Entry{Logger: l, Message: "hello", Data: logrus.Fields{"b": 2, "a": 1}}
	out, err := NewFormatter().Format(entry)
	assert.NoError(t, err)
	assert.Contains(t, string(out), "hello a=1 b=2")
}

func TestFormatPullsConnFieldOutOfSortedTail(t *testing.T) {
	l := logrus.New()
	l.SetFormatter(NewFormatter())
	entry := &logrus.Entry{Logger: l, Message: "hello", Data: logrus.Fields{"conn": "abc-123", "a": 1}}
	out, err := NewFormatter().Format(entry)
	assert.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, "[abc-123] hello a=1")
	assert.NotContains(t, s, "conn=")
}
