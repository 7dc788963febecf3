package model

// Endpoint is the address and credential pair of a live database instance
type Endpoint struct {
	URI      string
	Username string
	Password string
}

// ExternalEndpoint returns the externally supplied endpoint from the configuration
func (c *Config) ExternalEndpoint() Endpoint {
	return Endpoint{
		URI:      c.Endpoint.URI,
		Username: c.Endpoint.Username,
		Password: c.Endpoint.Password,
	}
}
