package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/studyhub/pkg/crypto"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults fills in a JWT secret when none is configured so a single
// process can start without a config file. It returns the keys it generated so
// callers can log the event without exposing values. A generated secret is only
// known to this process, so tokens it signs are rejected by the other services.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	return generated, nil
}
