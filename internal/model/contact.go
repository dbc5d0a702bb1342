// internal/model/contact.go
package model

type Contact struct {
	ID       int               `db:"id" json:"id"`
	Name     string            `db:"name" json:"name"`
	Phone    string            `db:"phone" json:"phone"`
	Email    string            `db:"email" json:"email"`
	Groups   []string          `db:"groups" json:"groups"`
	Metadata map[string]string `db:"metadata" json:"metadata,omitempty"`
}

// Fields returns the placeholder values for this contact. The built-in
// name, phone and email keys win over metadata keys of the same name.
func (c *Contact) Fields() map[string]string {
	fields := make(map[string]string, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		fields[k] = v
	}
	fields["name"] = c.Name
	fields["phone"] = c.Phone
	fields["email"] = c.Email
	return fields
}

// InGroups reports whether the contact belongs to any of the given groups.
// An empty filter matches every contact.
func (c *Contact) InGroups(groups []string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, want := range groups {
		for _, have := range c.Groups {
			if want == have {
				return true
			}
		}
	}
	return false
}
