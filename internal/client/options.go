package client

import (
	"google.golang.org/grpc/credentials"
)

// Option is a functional option for client configuration
type Option func(*Client)

// WithAuthToken sets the authentication token
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

// WithTransportCredentials replaces the default insecure credentials
func WithTransportCredentials(creds credentials.TransportCredentials) Option {
	return func(c *Client) {
		c.creds = creds
	}
}
