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

package repository

import (
	"errors"
	"fmt"
)

// RegistrationFailedMessage is the only detail callers see when a local
// registration cannot be persisted.
const RegistrationFailedMessage = "Unsuccessful registration. Please try again."

var (
	ErrUnknownFilter   = errors.New("unknown filter")
	ErrUnknownColumn   = errors.New("unknown user column")
	ErrUnknownInclude  = errors.New("unknown include")
	ErrImmutableColumn = errors.New("column cannot be updated")
)

// ValidationError carries the username validator's message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// RegistrationError hides the underlying persistence failure; the cause goes
// to telemetry only.
type RegistrationError struct{}

func (e *RegistrationError) Error() string { return RegistrationFailedMessage }

// InvalidFormatError is returned before any query runs when a filter value
// has the wrong shape.
type InvalidFormatError struct {
	Field string
	Value string
}

func (e *InvalidFormatError) Error() string {
	if e.Field == "contact" {
		return fmt.Sprintf("invalid phone format: %q", e.Value)
	}
	return fmt.Sprintf("invalid %s format: %q", e.Field, e.Value)
}
