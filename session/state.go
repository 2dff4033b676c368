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

package session

import "github.com/tomoncle/txorm/types"

// State is the lifecycle position of a transactional handle:
//
//	open -> committing -> committed -> closed
//	open -> rolling-back -> rolled-back -> closed
//
// Exactly one of committed or rolled-back is reached, and closed always is.
type State int

const (
	StateOpen State = iota
	StateCommitting
	StateCommitted
	StateRollingBack
	StateRolledBack
	StateClosed
)

var _ types.BaseEnum = StateOpen

var stateNames = [...]string{"open", "committing", "committed", "rolling-back", "rolled-back", "closed"}

var stateDescs = [...]string{
	"transaction in progress",
	"commit issued",
	"changes made durable",
	"rollback issued",
	"changes discarded",
	"connection returned to the pool",
}

func (s State) IsValid() bool { return s >= StateOpen && s <= StateClosed }

func (s State) Number() int {
	if !s.IsValid() {
		return types.IllegalValue
	}
	return int(s)
}

func (s State) Name() string {
	if !s.IsValid() {
		return types.IllegalName
	}
	return stateNames[s]
}

func (s State) String() string { return s.Name() }

func (s State) Desc() string {
	if !s.IsValid() {
		return types.IllegalDesc
	}
	return stateDescs[s]
}

// Terminal reports whether s is one of the two outcomes.
func (s State) Terminal() bool { return s == StateCommitted || s == StateRolledBack }

// ParseState is the inverse of State.Name.
func ParseState(name string) (State, bool) {
	return types.LookupEnum(name, StateOpen, StateCommitting, StateCommitted, StateRollingBack, StateRolledBack, StateClosed)
}
