package accesscontrol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	e, err := NewDefault()
	require.NoError(t, err)

	cases := []struct {
		role, act string
		want      bool
	}{
		{RoleModerator, ActionWarn, true},
		{RoleModerator, ActionUnlock, false},
		{RoleAdmin, ActionUnlock, true},
		{RoleAdmin, ActionWarn, true},
		{"member", ActionWarn, false},
	}

	for _, tc := range cases {
		ok, err := e.Enforce(tc.role, ResourceModeration, tc.act)
		require.NoError(t, err)
		require.Equal(t, tc.want, ok, "%s %s", tc.role, tc.act)
	}
}
