package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
)

func newTestService() *Service {
	return NewService(nil, records.NewMemoryStore(nil))
}

func TestBuildResource(t *testing.T) {
	assert.Equal(t, "urn:x-adapt:t1/api/asset/a1", BuildResource("t1", "/api/asset/a1"))
}

func TestGrantThenCheck(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	resource := BuildResource("t1", "/api/asset/a1")

	p, err := s.CreatePolicy(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	require.NoError(t, s.Grant(ctx, p, CRUD, resource, EffectAllow))

	for _, action := range CRUD {
		ok, err := s.Check(ctx, "u1", action, resource)
		require.NoError(t, err)
		assert.True(t, ok, "action %s", action)
	}

	ok, err := s.Check(ctx, "u2", ActionRead, resource)
	require.NoError(t, err)
	assert.False(t, ok, "other users have no grant")

	ok, err = s.Check(ctx, "u1", ActionRead, BuildResource("t1", "/api/asset/a2"))
	require.NoError(t, err)
	assert.False(t, ok, "grant is scoped to one resource")
}

func TestDenyOverridesAllow(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	p, err := s.CreatePolicy(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, s.Grant(ctx, p, []Action{"*"}, BuildResource("t1", "/api/asset/*"), EffectAllow))
	require.NoError(t, s.Grant(ctx, p, []Action{ActionDelete}, BuildResource("t1", "/api/asset/locked"), EffectDeny))

	ok, err := s.Check(ctx, "u1", ActionRead, BuildResource("t1", "/api/asset/locked"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Check(ctx, "u1", ActionDelete, BuildResource("t1", "/api/asset/locked"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Check(ctx, "u1", ActionDelete, BuildResource("t1", "/api/asset/other"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGrantValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestService()

	_, err := s.CreatePolicy(ctx, " ")
	assert.Error(t, err)

	p, err := s.CreatePolicy(ctx, "u1")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Grant(ctx, p, CRUD, "r", Effect("maybe")), ErrInvalidEffect)
	assert.Error(t, s.Grant(ctx, p, nil, "r", EffectAllow))
	assert.ErrorIs(t, s.Grant(ctx, Policy{ID: "missing"}, CRUD, "r", EffectAllow), ErrPolicyNotFound)
}

func TestCheckEmptyUser(t *testing.T) {
	ok, err := newTestService().Check(context.Background(), "", ActionRead, "r")
	require.NoError(t, err)
	assert.False(t, ok)
}
