package model_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

func TestUserDirectory(t *testing.T) {
	dir := model.NewUserDirectory(
		&model.User{ID: "alice", Name: "Alice", Role: types.RoleUser},
		&model.User{ID: "tom", Name: "Tom", Role: types.RoleTechnician},
		&model.User{ID: "alice", Name: "Alice Liddell", Role: types.RoleUser},
	)

	users := dir.List()
	gt.Array(t, users).Length(2)
	gt.Value(t, users[0].ID).Equal(types.UserID("alice"))
	gt.Value(t, users[1].ID).Equal(types.UserID("tom"))

	alice, err := dir.Get("alice")
	gt.NoError(t, err).Required()
	gt.Value(t, alice.Name).Equal("Alice Liddell")

	_, err = dir.Get("nobody")
	gt.Error(t, err).Is(model.ErrNotFound)
}
