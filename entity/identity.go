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

package entity

// IdentitySet tracks the records materialized within one handle. A record in
// the set is attached to that handle; removing it detaches the record. Keys
// are record pointers, so records never reference the handle themselves.
//
// An IdentitySet belongs to a single handle and is not safe for concurrent use.
type IdentitySet struct {
	items map[any]struct{}
}

func NewIdentitySet() *IdentitySet {
	return &IdentitySet{items: make(map[any]struct{})}
}

// Attach records e as bound to the owning handle.
func (s *IdentitySet) Attach(e any) {
	s.items[e] = struct{}{}
}

// Detach removes e and reports whether it was attached.
func (s *IdentitySet) Detach(e any) bool {
	if _, ok := s.items[e]; !ok {
		return false
	}
	delete(s.items, e)
	return true
}

func (s *IdentitySet) Contains(e any) bool {
	_, ok := s.items[e]
	return ok
}

func (s *IdentitySet) Len() int { return len(s.items) }

// Clear detaches everything and returns how many records were still attached.
func (s *IdentitySet) Clear() int {
	n := len(s.items)
	clear(s.items)
	return n
}
