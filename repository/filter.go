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
	"fmt"
	"sort"
	"strings"

	"github.com/tomoncle/oneauth/types"
)

// Filter argument keys accepted by ParseUserFilter.
const (
	FilterUsername  = "username"
	FilterFirstname = "firstname"
	FilterLastname  = "lastname"
	FilterEmail     = "email"
	FilterContact   = "contact"
	FilterVerified  = "verified"
)

// UserFilter is the typed set of optional search criteria. A nil field is
// left out of the predicate.
type UserFilter struct {
	Username  *string
	Firstname *string
	Lastname  *string
	Email     *string
	Contact   *string
	Verified  *bool
}

// ParseUserFilter converts untyped request arguments into a UserFilter.
// Empty values count as absent; unknown keys are rejected.
func ParseUserFilter(args map[string]string) (UserFilter, error) {
	var f UserFilter
	var unknown []string
	for key, value := range args {
		if value == "" {
			continue
		}
		v := value
		switch key {
		case FilterUsername:
			f.Username = &v
		case FilterFirstname:
			f.Firstname = &v
		case FilterLastname:
			f.Lastname = &v
		case FilterEmail:
			f.Email = &v
		case FilterContact:
			f.Contact = &v
		case FilterVerified:
			verified := v == "true"
			f.Verified = &verified
		default:
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return UserFilter{}, fmt.Errorf("%w: %s", ErrUnknownFilter, strings.Join(unknown, ", "))
	}
	return f, nil
}

// Build translates the criteria into a conjunctive predicate over the users
// table. It returns nil when no criterion is set.
func (f UserFilter) Build() (*types.QueryFilter, error) {
	var filter *types.QueryFilter

	if f.Username != nil {
		filter = filter.And("username = ?", *f.Username)
	}
	if f.Firstname != nil {
		filter = filter.And("LOWER(firstname) LIKE LOWER(?)", *f.Firstname+"%")
	}
	if f.Lastname != nil {
		filter = filter.And("LOWER(lastname) LIKE LOWER(?)", *f.Lastname+"%")
	}
	if f.Email != nil {
		// ab.c@gmail.com and abc@gmail.com are the same mailbox.
		filter = filter.And("LOWER(REPLACE(email, '.', '')) LIKE LOWER(REPLACE(?, '.', ''))", *f.Email)
	}
	if f.Contact != nil {
		if !isDigits(*f.Contact) {
			return nil, &InvalidFormatError{Field: FilterContact, Value: *f.Contact}
		}
		filter = filter.And("mobile_number LIKE ?", "%"+*f.Contact)
	}
	if f.Verified != nil {
		if *f.Verified {
			filter = filter.And("verifiedemail IS NOT NULL")
		} else {
			filter = filter.And("verifiedemail IS NULL")
		}
	}
	return filter, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
