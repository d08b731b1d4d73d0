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

package types

import "strings"

// QueryFilter describes a WHERE clause schema and its argument values.
type QueryFilter struct {
	Schema string
	Args   []interface{}
}

// NewQueryFilter creates a new query filter with schema and args.
func NewQueryFilter(schema string, args ...interface{}) *QueryFilter {
	return &QueryFilter{schema, args}
}

// And appends a clause joined with AND. A nil receiver starts a new filter.
func (f *QueryFilter) And(clause string, args ...interface{}) *QueryFilter {
	if f == nil || f.Schema == "" {
		return NewQueryFilter(clause, args...)
	}
	return &QueryFilter{
		Schema: strings.Join([]string{f.Schema, clause}, " AND "),
		Args:   append(append([]interface{}{}, f.Args...), args...),
	}
}

// IsEmpty reports whether the filter selects everything.
func (f *QueryFilter) IsEmpty() bool {
	return f == nil || strings.TrimSpace(f.Schema) == ""
}
