// Package cmd implements the lusl command line.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"lusl/pkg/archive"
)

// Exit codes by error class.
const (
	exitFailure   = 1
	exitUsage     = 2
	exitFormat    = 3
	exitAuth      = 4
	exitIntegrity = 5
)

const (
	archiveExt      = ".lusl"
	envPrefix       = "LUSL"
	defaultLogLevel = "info"
)

// app is the state shared by every command of one invocation.
type app struct {
	v        *viper.Viper
	logger   *slog.Logger
	logClose io.Closer
	stdin    *os.File
}

// NewRootCmd builds the command tree with its own configuration, so
// independent invocations never share state.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCmd()
	return root
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: viper.New(), logger: slog.New(slog.DiscardHandler), stdin: os.Stdin}

	root := &cobra.Command{
		Use:   "lusl",
		Short: "Pack directory trees into one lossless archive",
		Long: `lusl packs a directory tree into a single archive file and restores it.
Archives can be plain, encrypted with a passphrase, or compressed and encrypted.
Every file carries a checksum that is verified before anything is restored.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("log-level", defaultLogLevel, "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("log-file", "", "write logs to this file, rotated, instead of stderr")
	flags.String("passphrase-file", "", "read the passphrase from this file")
	flags.Int("workers", 0, "files digested in parallel (default: number of CPUs)")
	flags.Bool("progress", false, "log progress while packing or unpacking")

	root.AddCommand(
		newPackCmd(a),
		newUnpackCmd(a),
		newVerifyCmd(a),
		newListCmd(a),
	)
	return root, a
}

// Execute runs the command line and exits with a code naming the error
// class.
func Execute() {
	root, a := newRootCmd()
	err := root.Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// close flushes and closes the log file, if any.
func (a *app) close() {
	if a.logClose != nil {
		a.logClose.Close()
		a.logClose = nil
	}
}

// init binds flags, environment and config file into viper and builds the
// logger. Flags win over the environment, which wins over the file.
func (a *app) init(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := a.v.BindPFlag(f.Name, f); err != nil {
			bindErr = errors.Join(bindErr, err)
		}
	})
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		a.v.SetConfigType("yaml")
		if err := a.v.ReadInConfig(); err != nil {
			return usageError(fmt.Errorf("read config %s: %w", path, err))
		}
	}

	logger, closer, err := newLogger(cmd.ErrOrStderr(), a.v.GetString("log-level"), a.v.GetString("log-format"), a.v.GetString("log-file"))
	if err != nil {
		return usageError(err)
	}
	a.logger, a.logClose = logger, closer
	return nil
}

// errUsage marks bad flags, config or arguments.
var errUsage = errors.New("usage")

type usageErr struct{ err error }

func (e usageErr) Error() string { return e.err.Error() }

func (e usageErr) Unwrap() []error { return []error{errUsage, e.err} }

func usageError(err error) error { return usageErr{err} }

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, archive.ErrConfiguration):
		return exitUsage
	case errors.Is(err, archive.ErrUnsupportedFormat), errors.Is(err, archive.ErrCorruptArchive):
		return exitFormat
	case errors.Is(err, archive.ErrAuthentication):
		return exitAuth
	case errors.Is(err, archive.ErrIntegrity):
		return exitIntegrity
	default:
		return exitFailure
	}
}
