// Package directory holds the directory models the tool synchronizes.
package directory

import (
	"github.com/google/uuid"

	"github.com/gobeyondidentity/go-model-sync/model"
)

// User represents a directory user
type User struct {
	ID          string   `json:"id"`
	ExternalID  string   `json:"externalId,omitempty"`
	UserName    string   `json:"userName"`
	DisplayName string   `json:"displayName"`
	Emails      []Email  `json:"emails,omitempty"`
	Active      bool     `json:"active"`
	GroupIDs    []string `json:"groupIds,omitempty"`
}

// Email represents a user's email address
type Email struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary"`
}

// Group represents a directory group
type Group struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"displayName"`
	Description *string       `json:"description"`
	Members     []GroupMember `json:"members,omitempty"`
}

// GroupMember represents a member of a group
type GroupMember struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
}

func (u User) PrimaryKey() string { return u.ID }
func (u User) ModelName() string  { return "User" }
func (u *User) SetID(id string)   { u.ID = id }

func (g Group) PrimaryKey() string { return g.ID }
func (g Group) ModelName() string  { return "Group" }
func (g *Group) SetID(id string)   { g.ID = id }

// EnsureID assigns a random UUID to item when it has no primary key yet.
// It returns the key the item ends up with.
func EnsureID[T model.Model](item *T) string {
	if (*item).PrimaryKey() != "" {
		return (*item).PrimaryKey()
	}
	AssignID(item, uuid.NewString())
	return (*item).PrimaryKey()
}

// AssignID sets the primary key of item through its SetID method, whether
// T is a struct model or a pointer model. It reports whether T has one.
func AssignID[T model.Model](item *T, id string) bool {
	if setter, ok := any(item).(interface{ SetID(string) }); ok {
		setter.SetID(id)
		return true
	}
	if setter, ok := any(*item).(interface{ SetID(string) }); ok {
		setter.SetID(id)
		return true
	}
	return false
}
