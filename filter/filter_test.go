package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-conference/types"
)

func TestScheduleRule(t *testing.T) {
	rule, err := Compile(`User.Role == "admin"`)
	require.NoError(t, err)

	admin := types.User{Id: 1, Role: types.RoleAdmin}
	participant := types.User{Id: 2, Role: types.RoleParticipant}
	assert.True(t, rule.Allow(NewEnv(&admin, "put", types.CollectionSchedule)))
	assert.False(t, rule.Allow(NewEnv(&participant, "put", types.CollectionSchedule)))
	assert.False(t, rule.Allow(NewEnv(nil, "put", types.CollectionSchedule)))
}

func TestRuleWithHelpers(t *testing.T) {
	rule, err := Compile(`HasRole("organizer") || (HasRole("admin") && Action != "delete")`)
	require.NoError(t, err)

	organizer := types.User{Id: 1, Role: types.RoleOrganizer}
	admin := types.User{Id: 2, Role: types.RoleAdmin}
	assert.True(t, rule.Allow(NewEnv(&organizer, "delete", types.CollectionSchedule)))
	assert.True(t, rule.Allow(NewEnv(&admin, "put", types.CollectionSchedule)))
	assert.False(t, rule.Allow(NewEnv(&admin, "delete", types.CollectionSchedule)))
}

func TestEmptyRuleAllows(t *testing.T) {
	rule, err := Compile("")
	require.NoError(t, err)
	assert.True(t, rule.Allow(NewEnv(nil, "put", types.CollectionSchedule)))
}

func TestInvalidRule(t *testing.T) {
	_, err := Compile(`User.Role +`)
	assert.Error(t, err)

	_, err = Compile(`User.Coins`)
	assert.Error(t, err)
}
