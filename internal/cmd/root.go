package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		percy runs a local visual-snapshot discovery daemon: it accepts
		snapshot requests from an SDK over its control server, drives a
		headless browser to discover a page's assets, and reports the
		resulting build to the Percy API.`)

	rootExamples = templates.Examples(`
		# Start the daemon configured from PERCY_* environment variables only
		percy start

		# Start on a custom port with a config file
		percy start --config ./ci/percy.yml --port 5555`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// PercyOptions defines the options shared by every `percy` subcommand.
type PercyOptions struct {
	iooption.IOStreams
}

// NewPercyOptions provides an initialised PercyOptions instance.
func NewPercyOptions(streams iooption.IOStreams) *PercyOptions {
	return &PercyOptions{IOStreams: streams}
}

// NewRootCommand creates the `percy` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewPercyOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `percy` command and its nested
// children.
func NewRootCommandWithArgs(o *PercyOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "percy [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Percy visual-snapshot discovery daemon",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	warn := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(warn))

	cmd.AddCommand(NewStartCommand(NewStartOptions(o.IOStreams)))

	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
