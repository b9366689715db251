package models

// Credential is a row of the credentials table. It satisfies auth.Identity.
type Credential struct {
	Username  string
	Hash      string
	RoleNames []string
}

func (c Credential) Subject() string      { return c.Username }
func (c Credential) PasswordHash() string { return c.Hash }
func (c Credential) Roles() []string      { return append([]string(nil), c.RoleNames...) }
