package deskflow

// ConnectionType identifies the kind of external service a connection targets.
type ConnectionType string

const (
	ConnTypeTelegram ConnectionType = "telegram"
	ConnTypeSlack    ConnectionType = "slack"
	ConnTypeHTTP     ConnectionType = "http"
	ConnTypeSMTP     ConnectionType = "smtp"
	// ConnTypeOAuth2 is an HTTP integration authenticated with the OAuth2
	// client-credentials grant (Login = client id, Password = client secret,
	// Extras["token_url"], optional Extras["scopes"]).
	ConnTypeOAuth2 ConnectionType = "oauth2"
)

// Connection stores credentials and configuration for an external service.
// Connections are tenant-scoped.
type Connection struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Name     string         `json:"name"`
	Type     ConnectionType `json:"type"`
	Host     string         `json:"host,omitempty"`
	Port     int            `json:"port,omitempty"`
	Login    string         `json:"login,omitempty"`
	Password string         `json:"password,omitempty"` // encrypted at rest
	Token    string         `json:"token,omitempty"`    // encrypted at rest
	Extras   map[string]any `json:"extras,omitempty"`
}

// ConnectionSafe is the API-safe view of a Connection with secrets masked.
type ConnectionSafe struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Name     string         `json:"name"`
	Type     ConnectionType `json:"type"`
	Host     string         `json:"host,omitempty"`
	Port     int            `json:"port,omitempty"`
	Login    string         `json:"login,omitempty"`
	Extras   map[string]any `json:"extras,omitempty"`
}

// Safe returns a ConnectionSafe view with secrets removed.
func (c *Connection) Safe() ConnectionSafe {
	return ConnectionSafe{
		ID:       c.ID,
		TenantID: c.TenantID,
		Name:     c.Name,
		Type:     c.Type,
		Host:     c.Host,
		Port:     c.Port,
		Login:    c.Login,
		Extras:   c.Extras,
	}
}

// ExtraString returns Extras[key] as a string.
func (c *Connection) ExtraString(key string) string {
	s, _ := c.Extras[key].(string)
	return s
}
