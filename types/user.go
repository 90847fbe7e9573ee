package types

import (
	"fmt"
	"net/url"

	"github.com/mitchellh/hashstructure/v2"
)

const (
	RoleAdmin       = "admin"
	RoleOrganizer   = "organizer"
	RoleParticipant = "participant"
)

// User is a conference participant. Coins and ClickCount are counters that are incremented optimistically on the
// client, all other fields are profile data confirmed by the server.
type User struct {
	Id         int64  `json:"id" gorm:"primaryKey;autoIncrement:false" mapstructure:"id"`
	Name       string `json:"name" mapstructure:"name"`
	PhotoUrl   string `json:"photoUrl" mapstructure:"photoUrl"`
	Coins      int64  `json:"coins" mapstructure:"coins"`
	ClickCount int64  `json:"clickCount" mapstructure:"clickCount"`
	Role       string `json:"role" mapstructure:"role"`
	Location   string `json:"location" mapstructure:"location"`
	Regalia    string `json:"regalia,omitempty" mapstructure:"regalia"`
}

// NewUser returns the record created on the first session bootstrap of a user.
func NewUser(id int64, name string) User {
	return User{
		Id:       id,
		Name:     name,
		PhotoUrl: AvatarUrl(name),
		Role:     RoleParticipant,
	}
}

// AvatarUrl is the placeholder avatar used when the platform does not provide a photo.
func AvatarUrl(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name)
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOrganizer, RoleParticipant:
		return true
	}
	return false
}

// Hash returns a structural hash of the user, used to detect no-op updates.
func (u User) Hash() uint64 {
	h, err := hashstructure.Hash(u, hashstructure.FormatV2, nil)
	if err != nil {
		// only happens for unsupported field types, which User does not have
		panic(fmt.Sprintf("could not hash user: %s", err))
	}
	return h
}

// ApplyUserPatch merges the fields present in patch into user. The id can not be changed by a patch.
func ApplyUserPatch(user *User, patch map[string]interface{}) error {
	id := user.Id
	if err := applyPatch(user, patch); err != nil {
		return err
	}
	user.Id = id
	return nil
}
