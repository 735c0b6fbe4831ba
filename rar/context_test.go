package rar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipe/rar"
	"ipe/value"
)

func TestResolve_ResourceType(t *testing.T) {
	ctx := &rar.EvaluationContext{Resource: rar.Resource{TypeID: "Doc"}}
	v, err := ctx.Resolve([]string{"resource", "type"})
	require.NoError(t, err)
	assert.Equal(t, "Doc", v.AsString())
}

func TestResolve_ResourceAttribute(t *testing.T) {
	ctx := &rar.EvaluationContext{
		Resource: rar.Resource{Attributes: map[string]value.Value{"owner": value.String("u1")}},
	}
	v, err := ctx.Resolve([]string{"resource", "owner"})
	require.NoError(t, err)
	assert.Equal(t, "u1", v.AsString())
}

func TestResolve_ActionOperationAndTarget(t *testing.T) {
	ctx := &rar.EvaluationContext{Action: rar.Action{Operation: "read", Target: "doc:1"}}

	op, err := ctx.Resolve([]string{"action", "operation"})
	require.NoError(t, err)
	assert.Equal(t, "read", op.AsString())

	target, err := ctx.Resolve([]string{"action", "target"})
	require.NoError(t, err)
	assert.Equal(t, "doc:1", target.AsString())
}

func TestResolve_RequestPrincipalViaBothRoots(t *testing.T) {
	ctx := &rar.EvaluationContext{
		Request: rar.Request{Principal: rar.Principal{ID: "u1", Roles: []string{"admin", "editor"}}},
	}

	viaRequest, err := ctx.Resolve([]string{"request", "principal", "id"})
	require.NoError(t, err)
	assert.Equal(t, "u1", viaRequest.AsString())

	viaAlias, err := ctx.Resolve([]string{"principal", "id"})
	require.NoError(t, err)
	assert.Equal(t, "u1", viaAlias.AsString())

	roles, err := ctx.Resolve([]string{"request", "principal", "roles"})
	require.NoError(t, err)
	require.Equal(t, value.KindArray, roles.Kind())
	assert.Len(t, roles.AsArray(), 2)
}

func TestResolve_RequestTimestamp(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := &rar.EvaluationContext{Request: rar.Request{Timestamp: ts}}
	v, err := ctx.Resolve([]string{"request", "timestamp"})
	require.NoError(t, err)
	assert.Equal(t, ts.Unix(), v.AsInt())
}

func TestResolve_RequestSourceIPMissingWhenNil(t *testing.T) {
	ctx := &rar.EvaluationContext{}
	_, err := ctx.Resolve([]string{"request", "source_ip"})
	require.Error(t, err)
	var missing *rar.MissingAttributeError
	assert.ErrorAs(t, err, &missing)
}

func TestResolve_RequestSourceIPPresent(t *testing.T) {
	ip := "10.0.0.1"
	ctx := &rar.EvaluationContext{Request: rar.Request{SourceIP: &ip}}
	v, err := ctx.Resolve([]string{"request", "source_ip"})
	require.NoError(t, err)
	assert.Equal(t, ip, v.AsString())
}

func TestResolve_UnknownRootFails(t *testing.T) {
	ctx := &rar.EvaluationContext{}
	_, err := ctx.Resolve([]string{"environment"})
	require.Error(t, err)
	var missing *rar.MissingAttributeError
	assert.ErrorAs(t, err, &missing)
}

func TestResolve_MissingAttributeOnKnownRoot(t *testing.T) {
	ctx := &rar.EvaluationContext{Resource: rar.Resource{Attributes: map[string]value.Value{}}}
	_, err := ctx.Resolve([]string{"resource", "nonexistent"})
	require.Error(t, err)
	var missing *rar.MissingAttributeError
	assert.ErrorAs(t, err, &missing)
}

func TestResolve_NestedAttributePathJoinsWithDots(t *testing.T) {
	ctx := &rar.EvaluationContext{
		Resource: rar.Resource{Attributes: map[string]value.Value{"labels.team": value.String("payments")}},
	}
	v, err := ctx.Resolve([]string{"resource", "labels", "team"})
	require.NoError(t, err)
	assert.Equal(t, "payments", v.AsString())
}
