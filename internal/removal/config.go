package removal

import (
	"fmt"
)

const (
	DefaultAPIURL = "https://api.remove.bg/v1.0/removebg"
	DefaultSize   = "auto"
)

// Config holds the settings for the background-removal API.
//
// APIKey is sent as the X-Api-Key header. Size is the output size hint the
// service understands ("auto", "preview", "full", ...). Timeout is in seconds.
type Config struct {
	APIKey  string `json:"api_key"`
	APIURL  string `json:"api_url"`
	Size    string `json:"size"`
	Timeout int    `json:"timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for the removal API request
func (c *Config) GetHeaders() map[string]string {
	return map[string]string{
		"X-Api-Key": c.APIKey,
		"Accept":    "image/png",
	}
}

func (c *Config) size() string {
	if c.Size == "" {
		return DefaultSize
	}
	return c.Size
}
