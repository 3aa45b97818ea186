package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/GriffinCanCode/scriptmonkey/internal/infrastructure/server"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/registry"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"github.com/spf13/cobra"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed scripts in run order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(func(c *server.Components) error {
				scripts := c.Registry.Scripts()
				if len(scripts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No scripts installed")
					return nil
				}
				printScripts(cmd.OutOrStdout(), scripts)
				return nil
			})
		},
	}
}

func printScripts(out io.Writer, scripts []*script.Script) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSCRIPT\tENABLED\tINCLUDES")
	for _, s := range scripts {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", registry.Key(s), s.ID(), s.Enabled(), strings.Join(s.Metadata().Includes, " "))
	}
	w.Flush()
}

func newInstallCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "install URL|PATTERN...",
		Short: "Install scripts from URLs or local files",
		Long: `Install scripts with their dependencies.

Arguments with an http, https or file scheme are downloaded. Anything else
is a local path or a doublestar pattern such as "scripts/**/*.user.js".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(c *server.Components) error {
				for _, arg := range args {
					installed, err := install(cmd, c, arg)
					for _, s := range installed {
						fmt.Fprintf(cmd.OutOrStdout(), "installed %s (%s)\n", s.ID(), registry.Key(s))
					}
					if err != nil {
						return fmt.Errorf("failed to install %s: %w", arg, err)
					}
				}
				return nil
			})
		},
	}
}

func install(cmd *cobra.Command, c *server.Components, arg string) ([]*script.Script, error) {
	ctx := cmd.Context()
	for _, scheme := range []string{"http://", "https://", "file://"} {
		if strings.HasPrefix(arg, scheme) {
			s, err := c.Browser.InstallFromURL(ctx, arg)
			if err != nil {
				return nil, err
			}
			return []*script.Script{s}, nil
		}
	}

	pattern := arg
	if _, err := os.Stat(arg); err == nil {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		pattern = abs
	}
	installed, err := c.Browser.ImportFiles(ctx, pattern)
	if err == nil && len(installed) == 0 {
		err = fmt.Errorf("no files match %q", arg)
	}
	return installed, err
}

func newUninstallCmd(opts *options) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "uninstall KEY...",
		Short: "Uninstall scripts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(c *server.Components) error {
				for _, ref := range args {
					s, err := find(c.Registry, ref)
					if err != nil {
						return err
					}
					if err := c.Registry.Uninstall(s, purge); err != nil {
						return fmt.Errorf("failed to uninstall %s: %w", ref, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", s.ID())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also delete the script's stored values")
	return cmd
}

func newEnableCmd(opts *options, enabled bool) *cobra.Command {
	use, verb := "enable", "Enable"
	if !enabled {
		use, verb = "disable", "Disable"
	}
	return &cobra.Command{
		Use:   use + " KEY...",
		Short: verb + " scripts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(c *server.Components) error {
				for _, ref := range args {
					s, err := find(c.Registry, ref)
					if err != nil {
						return err
					}
					c.Registry.SetEnabled(s, enabled)
					fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", use, s.ID())
				}
				return nil
			})
		},
	}
}

func newMoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "move KEY OFFSET",
		Short:   "Move a script up (negative) or down (positive) in run order",
		Example: `  scriptctl move test/Hello 2
  scriptctl move -- test/Hello -1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid offset %q", args[1])
			}
			return opts.run(func(c *server.Components) error {
				s, err := find(c.Registry, args[0])
				if err != nil {
					return err
				}
				if err := c.Registry.MoveBy(s, offset); err != nil {
					return err
				}
				printScripts(cmd.OutOrStdout(), c.Registry.Scripts())
				return nil
			})
		},
	}
}

func newMatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "match URL",
		Short: "Show the scripts that would run at URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(c *server.Components) error {
				scripts := c.Registry.RunnableAt(args[0])
				if len(scripts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No scripts match")
					return nil
				}
				printScripts(cmd.OutOrStdout(), scripts)
				return nil
			})
		},
	}
}

func newPruneCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete script directories no installed script uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(func(c *server.Components) error {
				removed, err := c.Registry.Prune()
				for _, name := range removed {
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
				}
				return err
			})
		},
	}
}
