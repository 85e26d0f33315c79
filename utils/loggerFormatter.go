// Copyright 2025 mcbridge contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggerFormatter is a logrus text formatter that surfaces a set of fields
// as a bracketed prefix, e.g. `[relay>client]`, and appends the remaining
// fields after the message.
type LoggerFormatter struct {
	// PrefixFields appear in the prefix, in this order
	PrefixFields []string
	// LevelNames overrides the printed level names
	LevelNames map[logrus.Level]string
	// Minimal drops the timestamp and level
	Minimal bool
}

func MakeLoggerFormatter(
	prefixFields []string,
	levelNames map[logrus.Level]string,
	minimal bool,
) LoggerFormatter {
	return LoggerFormatter{
		PrefixFields: prefixFields,
		LevelNames:   levelNames,
		Minimal:      minimal,
	}
}

// Format a log entry
func (f *LoggerFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	levelColor := getColorByLevel(entry.Level)

	prefixFields, otherFields := f.splitFields(entry)

	b := &bytes.Buffer{}

	if !f.Minimal {
		b.WriteString(entry.Time.Format(time.RFC3339))

		level := f.levelName(entry.Level)
		fmt.Fprintf(b, " \x1b[%dm[%s]", levelColor, level)
	} else {
		fmt.Fprintf(b, "\x1b[%dm", levelColor)
	}

	if len(prefixFields) > 0 {
		b.WriteString(" [")
		for fieldIdx, field := range prefixFields {
			if fieldIdx < len(prefixFields)-1 {
				fmt.Fprintf(b, "%v>", entry.Data[field])
			} else {
				fmt.Fprintf(b, "%v", entry.Data[field])
			}
		}
		b.WriteString("]")
	}
	b.WriteString(" \x1b[0m")

	b.WriteString(strings.TrimSpace(entry.Message))

	for _, field := range otherFields {
		fmt.Fprintf(b, " [%s:%v]", field, entry.Data[field])
	}

	b.WriteByte('\n')

	return b.Bytes(), nil
}

func (f *LoggerFormatter) levelName(level logrus.Level) string {
	if name, ok := f.LevelNames[level]; ok {
		return name
	}
	name := strings.ToUpper(level.String())
	return name[:4]
}

func (f *LoggerFormatter) splitFields(entry *logrus.Entry) ([]string, []string) {
	prefixFields := []string{}
	otherFields := []string{}
	isPrefixField := map[string]bool{}
	for _, field := range f.PrefixFields {
		isPrefixField[field] = true
		if _, ok := entry.Data[field]; ok {
			prefixFields = append(prefixFields, field)
		}
	}
	for field := range entry.Data {
		if _, ok := isPrefixField[field]; !ok {
			otherFields = append(otherFields, field)
		}
	}
	sort.Strings(otherFields)
	return prefixFields, otherFields
}

const (
	colorRed    = 31
	colorYellow = 33
	colorBlue   = 36
	colorGray   = 37
)

func getColorByLevel(level logrus.Level) int {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return colorGray
	case logrus.WarnLevel:
		return colorYellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorRed
	default:
		return colorBlue
	}
}
