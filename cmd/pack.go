package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"lusl/lib"
	"lusl/pkg/archive"
	"lusl/pkg/checksum"
	"lusl/pkg/compress"
	"lusl/pkg/progress"
)

func newPackCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack <dir> [archive]",
		Short: "Pack a directory tree into an archive",
		Long: `Pack every regular file below <dir> into one archive. The archive defaults
to <dir>.lusl in the current directory. Symlinks are skipped.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPack(cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.Bool("encrypt", false, "encrypt the data section with a passphrase")
	flags.Bool("compress", false, "compress the data section (requires --encrypt)")
	flags.String("codec", compress.CodecLZ4.String(), "compression codec: lz4 or zstd")
	flags.String("checksum", checksum.SchemeMD5.String(), "per-file checksum: md5 or blake3")
	flags.Bool("force", false, "replace an existing archive")
	return cmd
}

func (a *app) runPack(cmd *cobra.Command, args []string) error {
	source := args[0]
	destination := filepath.Base(filepath.Clean(source)) + archiveExt
	if len(args) == 2 {
		destination = args[1]
	}

	if !a.v.GetBool("force") {
		if _, err := os.Stat(destination); err == nil {
			return usageError(fmt.Errorf("%s already exists (use --force to replace it)", destination))
		} else if !errors.Is(err, fs.ErrNotExist) {
			return archive.NewIOError("stat", destination, err)
		}
	}

	options, err := a.packOptions(cmd)
	if err != nil {
		return err
	}

	s, err := lib.NewSerializer(source, destination, a.libOptions()...)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.SetOptions(options); err != nil {
		return err
	}
	if err := s.SerializeContext(cmd.Context()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "packed %s into %s\n", source, destination)
	return nil
}

func (a *app) packOptions(cmd *cobra.Command) (lib.Options, error) {
	codec, err := compress.ParseCodec(a.v.GetString("codec"))
	if err != nil {
		return lib.Options{}, usageError(err)
	}
	scheme, err := checksum.ParseScheme(a.v.GetString("checksum"))
	if err != nil {
		return lib.Options{}, usageError(err)
	}

	options := lib.Options{
		Encrypt:  a.v.GetBool("encrypt"),
		Compress: a.v.GetBool("compress"),
		Codec:    codec,
		Checksum: scheme,
	}
	if options.Compress && !options.Encrypt {
		return lib.Options{}, archive.Configurationf("--compress requires --encrypt")
	}
	if options.Encrypt {
		if options.Passphrase, err = a.passphrase(cmd.ErrOrStderr(), true); err != nil {
			return lib.Options{}, err
		}
	}
	return options, nil
}

// libOptions maps global flags to library options.
func (a *app) libOptions() []lib.Option {
	opts := []lib.Option{
		lib.WithLogger(a.logger),
		lib.WithWorkers(a.v.GetInt("workers")),
	}
	if a.v.GetBool("progress") {
		opts = append(opts, lib.WithProgress(progress.NewTracker(a.logger, progress.DefaultInterval)))
	}
	return opts
}
