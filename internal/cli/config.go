package cli

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file, the dotenv file
and BIZPOS_* environment overrides have been applied. Secrets are masked.

Example:
  bizpos config
  bizpos config --config ./bizpos.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(rootOpts, cmd)
		},
	}
	return cmd
}

func runConfig(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	cfg = cfg.Redacted()

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode config", err)
	}
	return newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Render(cfg, func(w io.Writer) {
		w.Write(out)
	})
}
