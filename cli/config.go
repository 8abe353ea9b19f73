package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/fahmaliyi/clockode/config"
	"github.com/fahmaliyi/clockode/logging"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or store the configuration",
	}

	var force bool
	write := &cobra.Command{
		Use:   "write [PATH]",
		Short: "Save the effective configuration as YAML",
		Long: `Save the configuration in effect, including flag and environment
overrides, so later runs pick it up. PATH defaults to the user config file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfgFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				var err error
				if path, err = config.DefaultFile(); err != nil {
					return err
				}
			}

			_, err := os.Stat(path)
			switch {
			case err == nil && !force:
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			case err == nil:
				logging.Warnf("overwriting config file %s", path)
			case !errors.Is(err, fs.ErrNotExist):
				return err
			}

			if err := config.WriteFile(a.cfg, path); err != nil {
				return err
			}
			logging.Infof("config written to %s", path)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	write.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(write)
	return cmd
}
