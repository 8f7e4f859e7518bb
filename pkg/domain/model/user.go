package model

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

// User is an entry of the configured user directory
type User struct {
	ID           types.UserID
	Name         string
	Email        string
	Role         types.Role
	PasswordHash string `masq:"secret"` // bcrypt
}

// UserDirectory holds the configured users. It is read-only after construction.
type UserDirectory struct {
	users map[types.UserID]*User
	order []types.UserID
}

// NewUserDirectory creates a directory from users, later duplicates win
func NewUserDirectory(users ...*User) *UserDirectory {
	d := &UserDirectory{users: make(map[types.UserID]*User)}
	for _, u := range users {
		if _, exists := d.users[u.ID]; !exists {
			d.order = append(d.order, u.ID)
		}
		d.users[u.ID] = u
	}
	return d
}

// Get retrieves a user by ID
func (d *UserDirectory) Get(id types.UserID) (*User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "user not found", goerr.V(UserIDKey, id))
	}
	return u, nil
}

// List returns all users in registration order
func (d *UserDirectory) List() []*User {
	result := make([]*User, 0, len(d.order))
	for _, id := range d.order {
		result = append(result, d.users[id])
	}
	return result
}
