package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"lusl/lib"
)

func newUnpackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unpack <archive> [dir]",
		Short: "Restore an archive into a directory",
		Long: `Restore every file of <archive> below [dir], which defaults to the archive
name without its .lusl extension. Every checksum is verified before the first
file is written; on failure nothing new is left behind.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			destination := defaultRestoreDir(source)
			if len(args) == 2 {
				destination = args[1]
			}

			d, err := a.openArchive(cmd, source, destination)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.DeserializeContext(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "restored %s into %s\n", source, destination)
			return nil
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <archive>",
		Short: "Check an archive without restoring it",
		Long:  `Decode <archive> completely and verify every file checksum. Nothing is written.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openArchive(cmd, args[0], "")
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.VerifyContext(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", args[0])
			return nil
		},
	}
}

// openArchive prepares a deserializer, asking for a passphrase only when
// the archive is encrypted.
func (a *app) openArchive(cmd *cobra.Command, source, destination string) (*lib.Deserializer, error) {
	manifest, err := lib.Inspect(source)
	if err != nil {
		return nil, err
	}

	var options lib.Options
	if manifest.Tags.Variant.Encrypted() {
		options.Encrypt = true
		if options.Passphrase, err = a.passphrase(cmd.ErrOrStderr(), false); err != nil {
			return nil, err
		}
	}

	d, err := lib.NewDeserializer(source, destination, a.libOptions()...)
	if err != nil {
		return nil, err
	}
	if err := d.SetOptions(options); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// defaultRestoreDir strips the archive extension from the base name.
func defaultRestoreDir(archivePath string) string {
	name := filepath.Base(archivePath)
	if trimmed := strings.TrimSuffix(name, archiveExt); trimmed != "" && trimmed != name {
		return trimmed
	}
	return name + ".d"
}
