package credentials

import (
	"github.com/tjfontaine/routex-demo/internal/domain"
)

// Input is what the user typed into the credential form.
type Input struct {
	UserID   string
	Password string
}

// Mandatory reports whether the user id and password inputs must be filled in
// given the current input. IfEitherFilled fields turn mandatory as soon as
// the other field has content.
func (f Fields) Mandatory(in Input) (userID, password bool) {
	userID = f.UserID.Visible && mandatory(f.UserID.Required, in.Password)
	password = f.Password.Visible && mandatory(f.Password.Required, in.UserID)
	return userID, password
}

func mandatory(r Requirement, other string) bool {
	switch r {
	case Always:
		return true
	case IfEitherFilled:
		return other != ""
	}
	return false
}

// Build validates the input against the field rules and assembles the
// credentials for connectionID. A validation failure is returned as
// *domain.IncompleteCredentialsError and must not be sent to the remote.
//
// Identifiers are sent only when their field is always required or when an
// IfEitherFilled field is triggered by the other input. A field that is
// never required is left out even when filled in. Both IfEitherFilled fields
// left empty yield an anonymous submission.
func (f Fields) Build(connectionID string, in Input) (domain.Credentials, error) {
	needUserID, needPassword := f.Mandatory(in)

	var missing []string
	if needUserID && in.UserID == "" {
		missing = append(missing, "user id")
	}
	if needPassword && in.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return domain.Credentials{}, &domain.IncompleteCredentialsError{Missing: missing}
	}

	creds := domain.Credentials{ConnectionID: connectionID}
	if mandatory(f.UserID.Required, in.Password) {
		v := in.UserID
		creds.UserID = &v
	}
	if mandatory(f.Password.Required, in.UserID) {
		v := in.Password
		creds.Password = &v
	}
	return creds, nil
}
