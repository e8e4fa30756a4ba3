// Command luaconsolectl manages the overlay's configuration and audit trail
// and asks a running overlay to unload.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/luaconsole/overlay/internal/audit"
	"github.com/luaconsole/overlay/internal/config"
	"github.com/luaconsole/overlay/internal/unload"
)

var (
	version = "0.1.0"
	cfgFile string
	force   bool
	pid     int
)

var rootCmd = &cobra.Command{
	Use:   "luaconsolectl",
	Short: "Lua console overlay tool",
	Long:  `luaconsolectl writes and checks the overlay config, verifies the audit trail and unloads a running overlay`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("luaconsolectl v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage luaconsole.yaml",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = filepath.Join(config.DataDir(), "luaconsole.yaml")
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		written, err := config.SaveTo(config.Default(), path)
		if err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Wrote %s\n", written)
		fmt.Println("Set log_offset and contraption_offset for your host build before injecting.")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		os.Stdout.Write(out)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config the overlay would load",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		res := cfg.ValidateTiered()
		for _, w := range res.Warnings {
			fmt.Printf("warning: %v\n", w)
		}
		for _, f := range res.Fatals {
			fmt.Printf("fatal: %v\n", f)
		}
		if res.HasFatals() {
			return fmt.Errorf("%d fatal config error(s)", len(res.Fatals))
		}
		fmt.Println("Config OK")
		return nil
	},
}

var unloadCmd = &cobra.Command{
	Use:   "unload",
	Short: "Ask the overlay in a running host to unload",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pid <= 0 {
			return fmt.Errorf("--pid is required")
		}
		if err := unload.SetEvent(unload.EventName(pid)); err != nil {
			return fmt.Errorf("signal process %d: %w", pid, err)
		}
		fmt.Printf("Unload requested for process %d\n", pid)
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Check the hash chain of an audit file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(config.DataDir(), audit.FileName)
		if len(args) == 1 {
			path = args[0]
		}
		n, err := audit.VerifyFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w (after %d good entries)", path, err, n)
		}
		fmt.Printf("%s: %d entries, chain intact\n", path, n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is luaconsole.yaml in the data directory)")
	configInitCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	unloadCmd.Flags().IntVar(&pid, "pid", 0, "host process id")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(unloadCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
