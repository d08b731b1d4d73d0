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
	"time"

	"github.com/uptrace/bun"
)

// User is the primary account record.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID            int64      `bun:"id,pk,autoincrement" json:"id"`
	Username      string     `bun:"username,notnull,unique" json:"username"`
	Email         string     `bun:"email" json:"email,omitempty"`
	Firstname     string     `bun:"firstname" json:"firstname,omitempty"`
	Lastname      string     `bun:"lastname" json:"lastname,omitempty"`
	MobileNumber  string     `bun:"mobile_number" json:"mobile_number,omitempty"`
	VerifiedEmail *time.Time `bun:"verifiedemail,nullzero" json:"verifiedemail,omitempty"`
	Photo         string     `bun:"photo" json:"photo,omitempty"`
	Role          string     `bun:"role" json:"role,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`

	Demographic *Demographic `bun:"rel:has-one,join:id=user_id" json:"demographic,omitempty"`
}

// UserLocal is the local (username/password) credential owning a User.
type UserLocal struct {
	bun.BaseModel `bun:"table:user_locals,alias:ul"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID    int64     `bun:"user_id,notnull,unique" json:"user_id"`
	Password  string    `bun:"password,notnull" json:"-"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`

	User *User `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
}

// Demographic enriches a User with college, branch and address references.
type Demographic struct {
	bun.BaseModel `bun:"table:demographics,alias:d"`

	ID        int64  `bun:"id,pk,autoincrement" json:"id"`
	UserID    int64  `bun:"user_id,notnull" json:"user_id"`
	Gender    string `bun:"gender" json:"gender,omitempty"`
	CollegeID *int64 `bun:"college_id" json:"college_id,omitempty"`
	BranchID  *int64 `bun:"branch_id" json:"branch_id,omitempty"`
	AddressID *int64 `bun:"address_id" json:"address_id,omitempty"`

	College *College `bun:"rel:belongs-to,join:college_id=id" json:"college,omitempty"`
	Branch  *Branch  `bun:"rel:belongs-to,join:branch_id=id" json:"branch,omitempty"`
	Address *Address `bun:"rel:belongs-to,join:address_id=id" json:"address,omitempty"`
}

type College struct {
	bun.BaseModel `bun:"table:colleges,alias:c"`

	ID   int64  `bun:"id,pk,autoincrement" json:"id"`
	Name string `bun:"name,notnull,unique" json:"name"`
}

type Branch struct {
	bun.BaseModel `bun:"table:branches,alias:b"`

	ID   int64  `bun:"id,pk,autoincrement" json:"id"`
	Name string `bun:"name,notnull,unique" json:"name"`
}

type Address struct {
	bun.BaseModel `bun:"table:addresses,alias:a"`

	ID            int64  `bun:"id,pk,autoincrement" json:"id"`
	Label         string `bun:"label" json:"label,omitempty"`
	StreetAddress string `bun:"street_address" json:"street_address,omitempty"`
	Landmark      string `bun:"landmark" json:"landmark,omitempty"`
	City          string `bun:"city" json:"city,omitempty"`
	State         string `bun:"state" json:"state,omitempty"`
	Pincode       string `bun:"pincode" json:"pincode,omitempty"`
	Country       string `bun:"country" json:"country,omitempty"`
}
