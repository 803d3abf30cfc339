package main

import (
	"strings"

	"turntable/internal/config"
)

// commandContext resolves shared flags lazily so commands that never touch
// the daemon do not require a reachable API or a config file.
type commandContext struct {
	serverFlag *string
	configFlag *string
}

func newCommandContext(serverFlag, configFlag *string) *commandContext {
	return &commandContext{serverFlag: serverFlag, configFlag: configFlag}
}

// client builds the API client for the configured daemon. The --server flag
// wins; otherwise the bind address from the config file is used.
func (c *commandContext) client() (*apiClient, error) {
	if server := strings.TrimSpace(*c.serverFlag); server != "" {
		return newAPIClient(server), nil
	}

	cfg, _, _, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	base := cfg.Paths.PublicURL
	if base == "" {
		base = "http://" + cfg.Paths.APIBind
	}
	return newAPIClient(base), nil
}
