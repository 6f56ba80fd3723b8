package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source is a secret that may arrive inline through configuration or sit in a
// file referenced by it. Database credentials and provider API keys both use
// this shape.
type Source struct {
	// Name labels the secret in error messages.
	Name string
	// Value is the inline secret.
	Value string
	// File is a path to read the secret from. A set File wins over Value.
	File string
}

// Load resolves the secret and trims surrounding whitespace. It fails when
// neither the file nor the inline value yields a non-empty secret.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	raw := src.Value
	file := strings.TrimSpace(src.File)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		raw = string(data)
	}

	secret := strings.TrimSpace(raw)
	if secret == "" {
		if file != "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return "", fmt.Errorf("%s is not configured", name)
	}

	return secret, nil
}
