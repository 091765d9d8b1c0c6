package domain

import "fmt"

// Service identifies the remote operation a flow drives.
type Service string

const (
	ServiceCollectPayment Service = "CollectPayment"
	ServiceTransactions   Service = "Transactions"
)

// Services lists every supported service.
var Services = []Service{ServiceCollectPayment, ServiceTransactions}

// Valid reports whether s is a known service.
func (s Service) Valid() bool {
	switch s {
	case ServiceCollectPayment, ServiceTransactions:
		return true
	}
	return false
}

// ParseService converts a service name into a Service.
func ParseService(name string) (Service, error) {
	s := Service(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown service %q", name)
	}
	return s, nil
}

// CredentialCapability describes which identifiers a connection accepts.
type CredentialCapability struct {
	// Full means user id and password are supported.
	Full bool `json:"full"`
	// UserID means a bare user id is supported.
	UserID bool `json:"userId"`
	// None means no credentials at all are supported.
	None bool `json:"none"`
}

// ConnectionInfo identifies a selectable bank or provider connection.
type ConnectionInfo struct {
	ID          string               `json:"id"`
	DisplayName string               `json:"displayName"`
	Credentials CredentialCapability `json:"credentials"`
	UserIDLabel string               `json:"userId,omitempty"`
	Advice      string               `json:"advice,omitempty"`
	Countries   []string             `json:"countries,omitempty"`
	BIC         string               `json:"bic,omitempty"`
}

// Credentials is what a start call sends for the selected connection. A nil
// pointer means the identifier is omitted.
type Credentials struct {
	ConnectionID string  `json:"connectionId"`
	UserID       *string `json:"userId,omitempty"`
	Password     *string `json:"password,omitempty"`
}

// Anonymous reports whether neither identifier is sent.
func (c Credentials) Anonymous() bool {
	return c.UserID == nil && c.Password == nil
}
