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

package validation

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

	validate     *validator.Validate
	validateOnce sync.Once
)

type usernameInput struct {
	Username string `validate:"required,min=3,max=32,username"`
}

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidateUsername returns an empty string for an acceptable username and a
// human readable reason otherwise.
func ValidateUsername(username string) string {
	err := instance().Struct(usernameInput{Username: strings.TrimSpace(username)})
	if err == nil {
		return ""
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "Invalid username."
	}
	switch errs[0].Tag() {
	case "required":
		return "Username is required."
	case "min":
		return "Username must be at least 3 characters long."
	case "max":
		return "Username must be at most 32 characters long."
	default:
		return "Username may only contain letters, digits, '.', '-' and '_' and must start with a letter or digit."
	}
}
