package scrape

import (
	"errors"
	"testing"
)

func TestValidateURL(t *testing.T) {
	valid := []string{
		"https://example.com/docs",
		"http://example.com",
		"https://sub.example.co.uk/path?q=1",
	}
	for _, raw := range valid {
		if _, err := ValidateURL(raw); err != nil {
			t.Errorf("ValidateURL(%q) = %v, want nil", raw, err)
		}
	}

	invalid := []string{
		"",
		"ftp://example.com/file",
		"file:///etc/passwd",
		"https://localhost/admin",
		"https://127.0.0.1/",
		"https://10.0.0.5/internal",
		"https://192.168.1.1/router",
		"https://169.254.169.254/metadata",
		"https://0.0.0.0/",
		"https://service.internal/api",
		"https://printer.local/",
		"not a url",
	}
	for _, raw := range invalid {
		if _, err := ValidateURL(raw); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("ValidateURL(%q) = %v, want ErrInvalidURL", raw, err)
		}
	}
}
