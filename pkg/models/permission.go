package models

// SubjectType classifies one entry of a permission rule's subject list.
type SubjectType string

const (
	SubjectOwner SubjectType = "owner"
	SubjectGroup SubjectType = "group"
	SubjectUser  SubjectType = "user"
)

// Subject is one entry of a permission rule's subject list. ID is empty for
// the owner subject.
type Subject struct {
	Type SubjectType `json:"type"`
	ID   string      `json:"id,omitempty"`
}

// RuleType selects how a permission rule's subject list is interpreted.
type RuleType string

const (
	// RuleNone ignores the list entirely: unrestricted.
	RuleNone RuleType = "none"
	// RuleAllow permits only identities matching an entry of the list.
	RuleAllow RuleType = "allow"
	// RuleDeny permits every identity except those matching an entry of the list.
	RuleDeny RuleType = "deny"
)

// PermissionRule is one of the three independent access rules of a Permission.
type PermissionRule struct {
	Type RuleType  `json:"type"`
	List []Subject `json:"list"`
}

// Permission carries the three access rules of a document.
type Permission struct {
	View  PermissionRule `json:"view"`
	Edit  PermissionRule `json:"edit"`
	Chmod PermissionRule `json:"chmod"`
}

// Identity is the evaluation context for a permission check: the acting user and
// the groups that user belongs to.
type Identity struct {
	UserID   string
	GroupIDs []string
}

func (a Identity) matches(s Subject, owner *string) bool {
	switch s.Type {
	case SubjectOwner:
		return owner != nil && a.UserID == *owner
	case SubjectUser:
		return a.UserID == s.ID
	case SubjectGroup:
		for _, g := range a.GroupIDs {
			if g == s.ID {
				return true
			}
		}
	}
	return false
}

// Permits evaluates the rule for the given id against the document's owner.
func (r PermissionRule) Permits(id Identity, owner *string) bool {
	switch r.Type {
	case RuleAllow:
		for _, s := range r.List {
			if id.matches(s, owner) {
				return true
			}
		}
		return false
	case RuleDeny:
		for _, s := range r.List {
			if id.matches(s, owner) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (p *Permission) CanView(id Identity, owner *string) bool {
	return p == nil || p.View.Permits(id, owner)
}

func (p *Permission) CanEdit(id Identity, owner *string) bool {
	return p == nil || p.Edit.Permits(id, owner)
}

func (p *Permission) CanChmod(id Identity, owner *string) bool {
	return p == nil || p.Chmod.Permits(id, owner)
}

// PermissionDefault is the fully open template used for public data.
func PermissionDefault() *Permission {
	return &Permission{
		View:  PermissionRule{Type: RuleNone, List: []Subject{}},
		Edit:  PermissionRule{Type: RuleNone, List: []Subject{}},
		Chmod: PermissionRule{Type: RuleNone, List: []Subject{}},
	}
}

// PermissionOwnerChange is the template for ownership-transferable data:
// anyone can view, only the owner can edit or chmod.
func PermissionOwnerChange() *Permission {
	return &Permission{
		View:  PermissionRule{Type: RuleNone, List: []Subject{}},
		Edit:  PermissionRule{Type: RuleAllow, List: []Subject{{Type: SubjectOwner}}},
		Chmod: PermissionRule{Type: RuleAllow, List: []Subject{{Type: SubjectOwner}}},
	}
}

// PermissionOwnerView is the template for private data: only the owner can
// view, edit or chmod.
func PermissionOwnerView() *Permission {
	return &Permission{
		View:  PermissionRule{Type: RuleAllow, List: []Subject{{Type: SubjectOwner}}},
		Edit:  PermissionRule{Type: RuleAllow, List: []Subject{{Type: SubjectOwner}}},
		Chmod: PermissionRule{Type: RuleAllow, List: []Subject{{Type: SubjectOwner}}},
	}
}
