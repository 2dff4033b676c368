/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	t.Run("Should map names and fall back to info", func(t *testing.T) {
		assert.Equal(t, logrus.DebugLevel, ParseLogLevel(" DEBUG "))
		assert.Equal(t, logrus.WarnLevel, ParseLogLevel("warning"))
		assert.Equal(t, logrus.ErrorLevel, ParseLogLevel("error"))
		assert.Equal(t, logrus.InfoLevel, ParseLogLevel(""))
		assert.Equal(t, logrus.InfoLevel, ParseLogLevel("verbose"))
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should register one logger per name", func(t *testing.T) {
		var buf bytes.Buffer
		SetConsoleOutput(&buf)

		a := NewLogger("utils-test")
		assert.Same(t, a, NewLogger("utils-test"))
		assert.True(t, SetLoggerLevel("utils-test", "error"))
		assert.False(t, SetLoggerLevel("utils-missing", "error"))

		a.Info("hidden")
		a.Error("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestFormatters(t *testing.T) {
	entry := &logrus.Entry{
		Time:    time.Date(2025, 3, 4, 5, 6, 7, 8_000_000, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "pool exhausted",
		Data:    logrus.Fields{"timeout": "30s", "error": errors.New("boom")},
	}

	t.Run("Should render a log4j style line", func(t *testing.T) {
		out, err := (&Log4jColorFormatter{LoggerName: "txorm", NameWidth: 10}).Format(entry)
		require.NoError(t, err)
		line := string(out)
		assert.Contains(t, line, "2025-03-04 05:06:07.008")
		assert.Contains(t, line, "WARN")
		assert.Contains(t, line, "pool exhausted error=boom timeout=30s")
	})

	t.Run("Should render one json object", func(t *testing.T) {
		out, err := (&JSONLogFormatter{LoggerName: "txorm"}).Format(entry)
		require.NoError(t, err)
		var rec map[string]any
		require.NoError(t, json.Unmarshal(out, &rec))
		assert.Equal(t, "warning", rec["level"])
		assert.Equal(t, "txorm", rec["model"])
		assert.Equal(t, "boom", rec["fields"].(map[string]any)["error"])
	})
}

func TestEnvDefaults(t *testing.T) {
	t.Run("Should read set variables and fall back otherwise", func(t *testing.T) {
		t.Setenv("TXORM_S", "x")
		t.Setenv("TXORM_B", "true")
		t.Setenv("TXORM_D_SECONDS", "15")
		t.Setenv("TXORM_D_GO", "250ms")
		t.Setenv("TXORM_D_BAD", "soon")

		assert.Equal(t, "x", EnvDefaultString("TXORM_S", "y"))
		assert.Equal(t, "y", EnvDefaultString("TXORM_UNSET", "y"))
		assert.True(t, EnvDefaultBool("TXORM_B", false))
		assert.True(t, EnvDefaultBool("TXORM_UNSET", true))
		assert.Equal(t, 15*time.Second, EnvDefaultDuration("TXORM_D_SECONDS", 0))
		assert.Equal(t, 250*time.Millisecond, EnvDefaultDuration("TXORM_D_GO", 0))
		assert.Equal(t, time.Minute, EnvDefaultDuration("TXORM_D_BAD", time.Minute))
	})
}
