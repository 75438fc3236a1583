package registry

import (
	"fmt"
	"time"
)

// Status classifies an account's last known credential state.
type Status string

const (
	StatusAuthenticated Status = "authenticated"
	StatusExpired       Status = "expired"
	StatusError         Status = "error"
)

// Account is one authenticated identity/organization pairing. The registry
// holds at most one account per organization and at most one active account.
type Account struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organizationId"`
	OrganizationName string    `json:"organizationName"`
	UserEmail        string    `json:"userEmail"`
	UserName         string    `json:"userName"`
	IsActive         bool      `json:"isActive"`
	Status           Status    `json:"status"`
	LastUsed         time.Time `json:"lastUsed"`
	Region           string    `json:"region,omitempty"`
}

// NewAccountID derives the stable account id from the organization id and
// the creation time. Opaque to everything but key construction.
func NewAccountID(organizationID string, createdAt time.Time) string {
	return fmt.Sprintf("%s-%d", organizationID, createdAt.UnixMilli())
}
