// Package models defines the server-side records persisted in the database
// and the projections returned to API clients.
package models

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/dmitrijs2005/userdir/internal/common"
)

var phonePattern = regexp.MustCompile(`^[0-9\-+() ]*$`)

// User is a directory record. ID is assigned by the database unless the
// record came from the upstream source or the client supplied one.
type User struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Age         int    `json:"age"`
	SSN         string `json:"ssn"`
	Role        string `json:"role"`
	Phone       string `json:"phone"`
	Username    string `json:"username"`
	Gender      string `json:"gender"`
	AddressJSON string `json:"addressJson"`
}

// Validate checks the fields a client may submit when creating a user.
func (u User) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.ID, validation.Min(int64(1))),
		validation.Field(&u.FirstName, validation.Required),
		validation.Field(&u.LastName, validation.Required),
		validation.Field(&u.Email, validation.Required, is.Email),
		validation.Field(&u.Age, validation.Min(0)),
		validation.Field(&u.SSN, validation.Length(3, 0)),
		validation.Field(&u.Phone, validation.Match(phonePattern).Error("contains invalid characters")),
		validation.Field(&u.Username, validation.Required),
		validation.Field(&u.AddressJSON, validation.Length(0, common.MaxAddressJSONLength)),
	)
}

// UserResponse is the list projection of a User.
type UserResponse struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Age       int    `json:"age"`
	SSN       string `json:"ssn"`
	Username  string `json:"username"`
}

func NewUserResponse(u User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Age:       u.Age,
		SSN:       u.SSN,
		Username:  u.Username,
	}
}

// SyncOutcome reports what a sync run produced. When UsedFallback is set,
// Users holds the previously persisted records.
type SyncOutcome struct {
	Users         []User
	FetchedCount  int
	UsedFallback  bool
	FallbackCount int
}
