// Package cli implements the scriptctl commands, which operate directly on
// the on-disk registry.
package cli

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/server"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/registry"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"github.com/spf13/cobra"
)

// options are the global flags.
type options struct {
	configPath string
	root       string
	verbose    bool
}

// NewRootCmd builds the scriptctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "scriptctl",
		Short: "Manage installed userscripts",
		Long: `scriptctl lists, installs, removes, toggles and reorders the userscripts
of a ScriptMonkey script root without a running server.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "TOML config file (default: environment only)")
	cmd.PersistentFlags().StringVar(&opts.root, "root", "", "script root directory (overrides SCRIPT_DIR)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(
		newListCmd(opts),
		newInstallCmd(opts),
		newUninstallCmd(opts),
		newEnableCmd(opts, true),
		newEnableCmd(opts, false),
		newMoveCmd(opts),
		newMatchCmd(opts),
		newPruneCmd(opts),
	)
	return cmd
}

func (o *options) load() (*server.Components, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.root != "" {
		cfg.Storage.ScriptDir = o.root
	}

	logger := logging.NewNop()
	if o.verbose {
		logger, err = logging.New(logging.Config{Level: "debug", Development: true, OutputPaths: []string{"stderr"}})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	return server.Build(cfg, logger)
}

// run loads the components, calls fn and releases them.
func (o *options) run(fn func(c *server.Components) error) error {
	c, err := o.load()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// find resolves a script by API key or by "namespace/name".
func find(reg *registry.Config, ref string) (*script.Script, error) {
	if s := reg.FindByKey(ref); s != nil {
		return s, nil
	}
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		if s := reg.Find(ref[:i], ref[i+1:]); s != nil {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no installed script %q", ref)
}
