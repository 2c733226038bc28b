package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	Verbose bool
	JSON    bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "sleepsync",
	Short: "SleepSync - WHOOP sleep data exporter",
	Long: `SleepSync keeps WHOOP OAuth tokens alive for one or many users and
exports their sleep records to flat CSV files plus raw JSON mirrors.

Usage:
  sleepsync [command] [flags]

Available Commands:
  authorize  Run the browser authorization flow for one or more users
  fetch      Full export of every user for a date window
  update     Append records newer than the last export (CI mode)
  combine    Merge all JSON mirrors into one expanded CSV
  token      Inspect or refresh the single-user token
  check      Check configuration, credential store and tokens

Flags:
  --config string   Path to configuration file (default "config.yaml")
  --verbose         Enable debug logging
  --json            Output in JSON format

Use "sleepsync [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// InitRoot initializes the root command with global flags
func InitRoot() {
	configPath := os.Getenv("SLEEPSYNC_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", configPath, "Path to configuration file")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable debug logging")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of SleepSync",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd)
	},
}

var globalFlags GlobalFlags

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

func printVersion(cmd *cobra.Command) {
	info := GetVersionInfo()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "SleepSync Version:", info.Version)
	fmt.Fprintln(out, "Go Version:", info.GoVersion)
	fmt.Fprintln(out, "OS/Arch:", info.OS+"/"+info.Arch)
	fmt.Fprintln(out, "Build Date:", info.BuildDate)
}

// Set by the linker.
var (
	version   = "0.1.0"
	buildDate = "unknown"
)

// VersionInfo contains version information
type VersionInfo struct {
	Version   string
	GoVersion string
	OS        string
	Arch      string
	BuildDate string
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		BuildDate: buildDate,
	}
}
