// Package logging sets up the logrus backend that dlog logs through, the
// way the teacher's pkg/client/logging and cmd/traffic/logger.go do for
// their own binaries.
package logging

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05.0000"

// Formatter renders a logrus.Entry as "timestamp LEVEL [<conn id>] message key=val ...".
type Formatter struct{}

func NewFormatter() *Formatter {
	return &Formatter{}
}

// Format implements logrus.Formatter. The "conn" field, present on every
// line once a Transport has tagged its context, is pulled out of the
// sorted key=val tail and printed right after the level instead, the way
// the teacher's own Formatter pulls "THREAD" out of entry.Data.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}
	b.WriteString(entry.Time.Format(timestampFormat))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(entry.Level.String()))
	b.WriteByte(' ')

	keys := make([]string, 0, len(entry.Data))
	for k, v := range entry.Data {
		if k == "conn" {
			if id, ok := v.(string); ok {
				b.WriteByte('[')
				b.WriteString(id)
				b.WriteString("] ")
				continue
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString(entry.Message)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%+v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// SetLevel maps a LOG_LEVEL string (trace/debug/info/warn/error) onto
// logger, defaulting to info when name is empty or unrecognized.
func SetLevel(logger *logrus.Logger, name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
