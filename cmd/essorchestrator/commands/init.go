package commands

import (
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
)

const configHeader = "# Exchange set orchestrator configuration\n" +
	"# ${VAR} references are expanded from the environment and .env files.\n"

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing configuration file"`
}

func (i *InitCmd) Run(_ *Global, root *CLI) error {
	return writeDefaultConfig(root.Config, i.Force)
}

func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.ValidationError("configuration file already exists (use --force to overwrite)").
			WithContext("path", path).
			Build()
	}

	cfg := config.Default()
	cfg.Upstream.CatalogueURL = "${ESS_CATALOGUE_URL}"
	cfg.Upstream.FileServiceURL = "${ESS_FILE_SERVICE_URL}"
	cfg.Upstream.Token = "${ESS_UPSTREAM_TOKEN}"
	cfg.Server.Enabled = true

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.InternalError("failed to encode configuration").WithCause(err).Build()
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o600); err != nil {
		return errors.ConfigError("failed to write configuration file").WithCause(err).WithContext("path", path).Build()
	}
	slog.Info("Configuration written", slog.String("path", path))
	return nil
}
