package model

// Credential is the authentication material forwarded to the remote
// generation service.
type Credential struct {
	Cookie  string `json:"cookie"`
	ATToken string `json:"at_token"`
}

// Complete reports whether every required field is present.
func (c *Credential) Complete() bool {
	return c != nil && c.Cookie != "" && c.ATToken != ""
}
