package entity

import "fmt"

// ApproverType is the kind of approver a step requires.
//
// The set is closed: adding a value without extending approverRoles fails to
// compile, so every type always resolves to a role.
type ApproverType uint8

const (
	ApproverManager ApproverType = iota
	ApproverFinance
	ApproverDirector
	ApproverCFO
	ApproverCustom

	approverTypeCount
)

var approverTypeNames = [...]string{
	ApproverManager:  "MANAGER",
	ApproverFinance:  "FINANCE",
	ApproverDirector: "DIRECTOR",
	ApproverCFO:      "CFO",
	ApproverCustom:   "CUSTOM",
}

// Role a user must hold to be picked for each approver type. FINANCE and
// DIRECTOR have no dedicated role and fall back to MANAGER.
var approverRoles = [...]UserRole{
	ApproverManager:  RoleManager,
	ApproverFinance:  RoleManager,
	ApproverDirector: RoleManager,
	ApproverCFO:      RoleAdmin,
	ApproverCustom:   RoleManager,
}

// Both tables must cover exactly approverTypeCount entries.
var (
	_ = [1]struct{}{}[len(approverTypeNames)-int(approverTypeCount)]
	_ = [1]struct{}{}[len(approverRoles)-int(approverTypeCount)]
)

// ApproverTypes returns every approver type in declaration order
func ApproverTypes() []ApproverType {
	types := make([]ApproverType, 0, approverTypeCount)
	for t := ApproverType(0); t < approverTypeCount; t++ {
		types = append(types, t)
	}
	return types
}

// String returns the stored name of the approver type
func (t ApproverType) String() string {
	if t < approverTypeCount {
		return approverTypeNames[t]
	}
	return fmt.Sprintf("ApproverType(%d)", uint8(t))
}

// IsValid returns true for declared approver types
func (t ApproverType) IsValid() bool {
	return t < approverTypeCount
}

// Role returns the user role resolving this approver type
func (t ApproverType) Role() UserRole {
	if t < approverTypeCount {
		return approverRoles[t]
	}
	return RoleManager
}

// ParseApproverType parses a stored approver type name
func ParseApproverType(s string) (ApproverType, error) {
	for t, name := range approverTypeNames {
		if name == s {
			return ApproverType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown approver type %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (t ApproverType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid approver type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *ApproverType) UnmarshalText(text []byte) error {
	parsed, err := ParseApproverType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
