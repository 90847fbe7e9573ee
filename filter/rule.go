package filter

import (
	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/types"
)

// A Rule is a compiled boolean expression over Env.
type Rule struct {
	source string
	prog   *vm.Program
}

// Compile compiles source as a rule. An empty source yields a rule that allows everything.
func Compile(source string) (*Rule, error) {
	if source == "" {
		return &Rule{}, nil
	}
	prog, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, errors.Wrapf(err, "could not compile rule %q", source)
	}
	return &Rule{source: source, prog: prog}, nil
}

// NewEnv builds the rule environment for user performing action on collection.
func NewEnv(user *types.User, action string, collection types.Collection) Env {
	env := Env{
		Action:     action,
		Collection: string(collection),
	}
	if user != nil {
		env.User = User{
			Id:       user.Id,
			Name:     user.Name,
			Role:     user.Role,
			Location: user.Location,
			Regalia:  user.Regalia,
			Coins:    user.Coins,
		}
	}
	role := env.User.Role
	env.HasRole = func(r string) bool { return role == r }
	return env
}

// Allow runs the rule. A rule that fails at runtime denies.
func (r *Rule) Allow(env Env) bool {
	if r == nil || r.prog == nil {
		return true
	}
	res, err := expr.Run(r.prog, env)
	if err != nil {
		globals.AppLogger.Error("could not run rule", "rule", r.source, "error", err)
		return false
	}
	globals.AppLogger.Debug("rule result", "rule", r.source, "user", env.User.Id, "res", res)
	if bRes, ok := res.(bool); ok && bRes {
		return true
	}
	return false
}

func (r *Rule) String() string {
	return r.source
}
