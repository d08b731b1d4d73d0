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

package models

import (
	"sync"

	"github.com/tomoncle/oneauth/database"
)

// Relation paths accepted as includes when loading a User.
const (
	IncludeDemographic        = "Demographic"
	IncludeDemographicCollege = "Demographic.College"
	IncludeDemographicBranch  = "Demographic.Branch"
	IncludeDemographicAddress = "Demographic.Address"
)

// UserIncludes lists every relation path a User lookup can eager-load.
var UserIncludes = []string{
	IncludeDemographic,
	IncludeDemographicCollege,
	IncludeDemographicBranch,
	IncludeDemographicAddress,
}

var registerOnce sync.Once

// Register adds the user tables and their foreign keys to the database
// registries. Referenced tables come first. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		database.RegisteredModel(database.NewModelAdapter((*College)(nil), 10))
		database.RegisteredModel(database.NewModelAdapter((*Branch)(nil), 10))
		database.RegisteredModel(database.NewModelAdapter((*Address)(nil), 10))
		database.RegisteredModel(database.NewModelAdapter((*User)(nil), 20))
		database.RegisteredModel(database.NewModelAdapter((*UserLocal)(nil), 30))
		database.RegisteredModel(database.NewModelAdapter((*Demographic)(nil), 30))

		for _, fk := range []database.ForeignKeyConstraint{
			{Table: "user_locals", Column: "user_id", ReferenceTable: "users", ReferenceColumn: "id", OnDelete: "CASCADE"},
			{Table: "demographics", Column: "user_id", ReferenceTable: "users", ReferenceColumn: "id", OnDelete: "CASCADE"},
			{Table: "demographics", Column: "college_id", ReferenceTable: "colleges", ReferenceColumn: "id", OnDelete: "SET NULL"},
			{Table: "demographics", Column: "branch_id", ReferenceTable: "branches", ReferenceColumn: "id", OnDelete: "SET NULL"},
			{Table: "demographics", Column: "address_id", ReferenceTable: "addresses", ReferenceColumn: "id", OnDelete: "SET NULL"},
		} {
			database.RegisterForeignKey(fk)
		}
	})
}
