// Package credentials decides which credential fields a connection needs and
// assembles the credentials sent with a start call.
package credentials

import (
	"github.com/tjfontaine/routex-demo/internal/domain"
)

// Requirement tells when a visible field must be filled in.
type Requirement int

const (
	// Never means the field may always be left empty.
	Never Requirement = iota
	// Always means the field must be filled in.
	Always
	// IfEitherFilled means the field becomes mandatory once the other field
	// has content. Both empty is an anonymous submission.
	IfEitherFilled
)

func (r Requirement) String() string {
	switch r {
	case Never:
		return "never"
	case Always:
		return "always"
	case IfEitherFilled:
		return "if-either-filled"
	}
	return "unknown"
}

// Field is the visibility and requirement of one input.
type Field struct {
	Visible  bool
	Required Requirement
}

// Fields holds the rules for the user id and password inputs.
type Fields struct {
	UserID   Field
	Password Field
}

// Resolve derives the field rules from a capability. A nil capability means
// none is known yet and hides both fields.
//
// The password rule consults capability.UserID while the user id rule does
// not: a password alone only becomes optional when the connection also
// accepts a bare user id.
func Resolve(c *domain.CredentialCapability) Fields {
	if c == nil {
		return Fields{}
	}

	var f Fields
	f.UserID.Visible = c.Full || c.UserID
	f.Password.Visible = c.Full

	switch {
	case c.None && c.Full:
		f.UserID.Required = IfEitherFilled
	case c.None:
		f.UserID.Required = Never
	default:
		f.UserID.Required = Always
	}

	switch {
	case !c.Full:
		f.Password.Required = Never
	case c.None:
		f.Password.Required = IfEitherFilled
	case c.UserID:
		f.Password.Required = Never
	default:
		f.Password.Required = Always
	}

	return f
}
