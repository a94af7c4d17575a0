package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strptr(s string) *string { return &s }

func TestRuleNonePermitsEveryone(t *testing.T) {
	rule := PermissionRule{Type: RuleNone}
	assert.True(t, rule.Permits(Identity{UserID: "u1"}, nil))
	assert.True(t, rule.Permits(Identity{}, strptr("u2")))
}

func TestRuleAllowRequiresMatch(t *testing.T) {
	rule := PermissionRule{Type: RuleAllow, List: []Subject{
		{Type: SubjectUser, ID: "u1"},
		{Type: SubjectGroup, ID: "g1"},
	}}

	assert.True(t, rule.Permits(Identity{UserID: "u1"}, nil))
	assert.True(t, rule.Permits(Identity{UserID: "u9", GroupIDs: []string{"g1"}}, nil))
	assert.False(t, rule.Permits(Identity{UserID: "u2"}, nil))
	assert.False(t, rule.Permits(Identity{UserID: "u2", GroupIDs: []string{"g2"}}, nil))
}

func TestRuleDenyForbidsMatch(t *testing.T) {
	rule := PermissionRule{Type: RuleDeny, List: []Subject{
		{Type: SubjectUser, ID: "u1"},
	}}

	assert.False(t, rule.Permits(Identity{UserID: "u1"}, nil))
	assert.True(t, rule.Permits(Identity{UserID: "u2"}, nil))
}

func TestOwnerSubjectResolvesAgainstDocumentOwner(t *testing.T) {
	rule := PermissionRule{Type: RuleAllow, List: []Subject{{Type: SubjectOwner}}}

	assert.True(t, rule.Permits(Identity{UserID: "u1"}, strptr("u1")))
	assert.False(t, rule.Permits(Identity{UserID: "u1"}, strptr("u2")))
	// An ownerless document has nobody matching the owner subject.
	assert.False(t, rule.Permits(Identity{UserID: "u1"}, nil))
}

func TestNilPermissionPermits(t *testing.T) {
	var p *Permission
	id := Identity{UserID: "u1"}
	assert.True(t, p.CanView(id, nil))
	assert.True(t, p.CanEdit(id, nil))
	assert.True(t, p.CanChmod(id, nil))
}

func TestOwnerChangeTemplate(t *testing.T) {
	p := PermissionOwnerChange()
	owner := strptr("u1")

	assert.True(t, p.CanView(Identity{UserID: "u2"}, owner))
	assert.True(t, p.CanEdit(Identity{UserID: "u1"}, owner))
	assert.False(t, p.CanEdit(Identity{UserID: "u2"}, owner))
	assert.False(t, p.CanChmod(Identity{UserID: "u2"}, owner))
}

func TestOwnerViewTemplate(t *testing.T) {
	p := PermissionOwnerView()
	owner := strptr("u1")

	assert.False(t, p.CanView(Identity{UserID: "u2"}, owner))
	assert.True(t, p.CanView(Identity{UserID: "u1"}, owner))
}
