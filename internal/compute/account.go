package compute

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Account is the caller's account document returned by GET /myaccount.
type Account struct {
	XMLName        xml.Name  `xml:"http://oec.api.opsource.net/schemas/directory Account" json:"-"`
	UserName       string    `xml:"http://oec.api.opsource.net/schemas/directory userName" json:"user_name"`
	FullName       string    `xml:"http://oec.api.opsource.net/schemas/directory fullName" json:"full_name"`
	FirstName      string    `xml:"http://oec.api.opsource.net/schemas/directory firstName" json:"first_name"`
	LastName       string    `xml:"http://oec.api.opsource.net/schemas/directory lastName" json:"last_name"`
	EmailAddress   string    `xml:"http://oec.api.opsource.net/schemas/directory emailAddress" json:"email_address"`
	OrgID          string    `xml:"http://oec.api.opsource.net/schemas/directory orgId" json:"-"`
	Roles          []Role    `xml:"http://oec.api.opsource.net/schemas/directory roles>role" json:"roles"`
	OrganizationID uuid.UUID `xml:"-" json:"organization_id"`
}

// Role is a user role assigned to an account.
type Role struct {
	Name string `xml:"http://oec.api.opsource.net/schemas/directory name" json:"name"`
}

// RoleNames returns the names of all roles assigned to the account.
func (a *Account) RoleNames() []string {
	out := make([]string, 0, len(a.Roles))
	for _, r := range a.Roles {
		out = append(out, r.Name)
	}
	return out
}

// DecodeAccount parses an account document. The organisation id must be
// present and non-nil.
func DecodeAccount(data []byte) (*Account, error) {
	var a Account
	if err := xml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	raw := strings.TrimSpace(a.OrgID)
	if raw == "" {
		return nil, fmt.Errorf("decode account: orgId is missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode account: orgId %q: %w", raw, err)
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("decode account: orgId is nil")
	}
	a.OrganizationID = id
	return &a, nil
}
