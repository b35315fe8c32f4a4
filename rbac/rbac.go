package rbac

import (
	"database/sql"

	adapter "github.com/Blank-Xu/sql-adapter"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Roles are scoped per environment: an approver in UAT has no standing
// in PROD. The domain in every request is the environment name.
const (
	RoleApprover = "env:approver"
	RoleOperator = "env:operator"
)

const (
	ActApprove = "deployment:approve"
	ActUnlock  = "environment:unlock"
)

const (
	Model = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.act == p.act && r.dom == p.dom && r.obj == p.obj && g(r.sub, p.sub, r.dom)
`
)

type Enforcer struct {
	E *casbin.Enforcer
}

func NewEnforcer(path string) (*Enforcer, error) {
	m, err := model.NewModelFromString(Model)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1")
	if err != nil {
		return nil, err
	}

	a, err := adapter.NewAdapter(db, "sqlite3", "acl")
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m, a)
	if err != nil {
		return nil, err
	}

	e.EnableAutoSave(false)

	return &Enforcer{e}, nil
}

// AddEnvironment registers the role policies for an environment domain.
func (e *Enforcer) AddEnvironment(env string) error {
	_, err := e.E.AddPolicies([][]string{
		{RoleApprover, env, env, ActApprove},
		{RoleOperator, env, env, ActUnlock},
	})
	if err != nil {
		return err
	}

	// operators can approve as well
	_, err = e.E.AddGroupingPolicy(RoleOperator, RoleApprover, env)
	return err
}

func (e *Enforcer) RemoveEnvironment(env string) error {
	_, err := e.E.DeleteDomains(env)
	return err
}

func (e *Enforcer) AddApprover(env, user string) error {
	_, err := e.E.AddGroupingPolicy(user, RoleApprover, env)
	return err
}

func (e *Enforcer) RemoveApprover(env, user string) error {
	_, err := e.E.RemoveGroupingPolicy(user, RoleApprover, env)
	return err
}

func (e *Enforcer) AddOperator(env, user string) error {
	_, err := e.E.AddGroupingPolicy(user, RoleOperator, env)
	return err
}

func (e *Enforcer) RemoveOperator(env, user string) error {
	_, err := e.E.RemoveGroupingPolicy(user, RoleOperator, env)
	return err
}

// IsApprover reports whether a user's vote counts toward an approval
// threshold in the given environment.
func (e *Enforcer) IsApprover(env, user string) (bool, error) {
	return e.E.Enforce(user, env, env, ActApprove)
}

// IsOperator reports whether a user may lock or unlock the environment.
func (e *Enforcer) IsOperator(env, user string) (bool, error) {
	return e.E.Enforce(user, env, env, ActUnlock)
}

// ApproversFor lists users holding the approver role in an environment.
func (e *Enforcer) ApproversFor(env string) ([]string, error) {
	users, err := e.E.GetUsersForRole(RoleApprover, env)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, u := range users {
		// role inheritance shows up in the user list too; skip it
		if u == RoleOperator {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}
