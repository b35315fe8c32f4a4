package rbac_test

import (
	"database/sql"
	"testing"

	"shipgate.sh/core/rbac"

	adapter "github.com/Blank-Xu/sql-adapter"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func setup(t *testing.T) *rbac.Enforcer {
	db, err := sql.Open("sqlite3", ":memory:")
	assert.NoError(t, err)

	a, err := adapter.NewAdapter(db, "sqlite3", "acl")
	assert.NoError(t, err)

	m, err := model.NewModelFromString(rbac.Model)
	assert.NoError(t, err)

	e, err := casbin.NewEnforcer(m, a)
	assert.NoError(t, err)

	e.EnableAutoSave(false)

	return &rbac.Enforcer{E: e}
}

func TestApproverRole(t *testing.T) {
	e := setup(t)

	assert.NoError(t, e.AddEnvironment("UAT"))
	assert.NoError(t, e.AddApprover("UAT", "alice"))

	ok, err := e.IsApprover("UAT", "alice")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.IsApprover("UAT", "mallory")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRolesAreScopedPerEnvironment(t *testing.T) {
	e := setup(t)

	assert.NoError(t, e.AddEnvironment("UAT"))
	assert.NoError(t, e.AddEnvironment("PROD"))
	assert.NoError(t, e.AddApprover("UAT", "alice"))

	ok, err := e.IsApprover("PROD", "alice")
	assert.NoError(t, err)
	assert.False(t, ok, "UAT approver has no standing in PROD")
}

func TestOperatorImpliesApprover(t *testing.T) {
	e := setup(t)

	assert.NoError(t, e.AddEnvironment("PROD"))
	assert.NoError(t, e.AddOperator("PROD", "bob"))

	ok, err := e.IsOperator("PROD", "bob")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.IsApprover("PROD", "bob")
	assert.NoError(t, err)
	assert.True(t, ok, "operators inherit the approver role")
}

func TestRemoveApprover(t *testing.T) {
	e := setup(t)

	assert.NoError(t, e.AddEnvironment("UAT"))
	assert.NoError(t, e.AddApprover("UAT", "alice"))
	assert.NoError(t, e.RemoveApprover("UAT", "alice"))

	ok, err := e.IsApprover("UAT", "alice")
	assert.NoError(t, err)
	assert.False(t, ok)
}
