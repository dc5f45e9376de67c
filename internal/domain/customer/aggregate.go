package customer

import "strings"

// Collection is the entity store collection holding customers.
const Collection = "customers"

type Customer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// DisplayName returns "Name Surname", falling back to the username.
func (c *Customer) DisplayName() string {
	full := strings.TrimSpace(c.Name + " " + c.Surname)
	if full == "" {
		return c.Username
	}
	return full
}
