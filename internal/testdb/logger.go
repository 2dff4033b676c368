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

package testdb

import (
	"sync"

	"github.com/tomoncle/txorm/database"
)

// Entry is one captured log call.
type Entry struct {
	Level  database.LogLevel
	Msg    string
	Fields map[string]interface{}
}

// Logger captures log calls for assertions.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
}

var _ database.Logger = (*Logger)(nil)

func (l *Logger) SetLevel(database.LogLevel) {}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.add(database.LogLevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.add(database.LogLevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.add(database.LogLevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.add(database.LogLevelError, msg, fields) }

func (l *Logger) add(level database.LogLevel, msg string, kv []interface{}) {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Fields: fields})
}

// Find returns the first entry with msg.
func (l *Logger) Find(msg string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Msg == msg {
			return e, true
		}
	}
	return Entry{}, false
}
