package accesscontrol

import (
	"fmt"

	"engagement-core/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("accesscontrol",
	fx.Provide(
		New,
		AsAuthorizer,
	),
)

const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"

	ResourceModeration = "moderation"

	ActionWarn    = "warn"
	ActionRevoke  = "revoke"
	ActionSuspend = "suspend"
	ActionUnlock  = "unlock"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

var defaultPolicies = [][]string{
	{RoleModerator, ResourceModeration, ActionWarn},
	{RoleModerator, ResourceModeration, ActionRevoke},
	{RoleModerator, ResourceModeration, ActionSuspend},
	{RoleAdmin, ResourceModeration, ActionUnlock},
}

// Authorizer is satisfied by *casbin.Enforcer.
type Authorizer interface {
	Enforce(rvals ...interface{}) (bool, error)
}

func AsAuthorizer(e *casbin.Enforcer) Authorizer {
	return e
}

// New loads the model and policy files named in ACCESS_CONTROL, or the
// built-in moderation policy when they are unset.
func New(cfg *config.Config) (*casbin.Enforcer, error) {
	if cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		zap.L().Info("loading access control policy",
			zap.String("model", cfg.AccessControl.Model),
			zap.String("policy", cfg.AccessControl.Policy))
		return casbin.NewEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
	}
	return NewDefault()
}

// NewDefault returns an enforcer where admin inherits every moderator
// permission and is the only role allowed to unlock.
func NewDefault() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, fmt.Errorf("parse access control model: %w", err)
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}
	if _, err := e.AddGroupingPolicy(RoleAdmin, RoleModerator); err != nil {
		return nil, err
	}

	return e, nil
}
