package routex

import (
	"github.com/tjfontaine/routex-demo/internal/domain"
)

// SearchFilter narrows a search to connections matching Term.
type SearchFilter struct {
	Term string `json:"term"`
}

// SearchRequest is the input of a connection search.
type SearchRequest struct {
	Ticket        string         `json:"-"`
	Filters       []SearchFilter `json:"filters"`
	IBANDetection bool           `json:"ibanDetection"`
	Limit         int            `json:"limit"`
}

// AccountReference preselects an account for CollectPayment.
type AccountReference struct {
	IBAN     string `json:"iban"`
	Currency string `json:"currency,omitempty"`
}

// StartRequest starts a service.
type StartRequest struct {
	Ticket         string             `json:"-"`
	Credentials    domain.Credentials `json:"credentials"`
	Session        []byte             `json:"session,omitempty"`
	ConnectionData []byte             `json:"connectionData,omitempty"`
	Account        *AccountReference  `json:"account,omitempty"`
}

// RespondRequest answers a Selection or Field dialog.
type RespondRequest struct {
	Ticket   string         `json:"-"`
	Context  domain.Context `json:"context"`
	Response string         `json:"response"`
}

// ConfirmRequest answers a Confirmation dialog or resumes after a redirect.
type ConfirmRequest struct {
	Ticket  string         `json:"-"`
	Context domain.Context `json:"context"`
}

// RegisterRedirectRequest registers the address the external site returns
// the user to.
type RegisterRedirectRequest struct {
	Ticket      string `json:"-"`
	Handle      string `json:"handle"`
	RedirectURI string `json:"redirectUri"`
}

type registerRedirectResponse struct {
	URL string `json:"url"`
}

// Wire representation of a Response. Type selects the variant.
type wireResponse struct {
	Type string `json:"type"`

	// Result
	Payload        string `json:"payload,omitempty"`
	ConnectionData []byte `json:"connectionData,omitempty"`

	// Dialog
	Message string     `json:"message,omitempty"`
	Image   *wireImage `json:"image,omitempty"`
	Input   *wireInput `json:"input,omitempty"`

	// RedirectHandle
	Handle string `json:"handle,omitempty"`

	// Dialog and RedirectHandle
	Context domain.Context `json:"context,omitempty"`
}

type wireImage struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType"`
}

type wireInput struct {
	Type string `json:"type"`

	// Confirmation
	PollingDelaySecs *int `json:"pollingDelaySecs,omitempty"`

	// Selection
	Options []wireOption `json:"options,omitempty"`

	// Field
	InputType    string `json:"inputType,omitempty"`
	SecrecyLevel string `json:"secrecyLevel,omitempty"`
	MinLength    *int   `json:"minLength,omitempty"`
	MaxLength    *int   `json:"maxLength,omitempty"`
}

type wireOption struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Explanation string `json:"explanation,omitempty"`
}
