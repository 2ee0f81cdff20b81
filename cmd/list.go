package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lusl/lib"
	"lusl/pkg/compress"
)

type listing struct {
	Variant        string       `yaml:"variant"`
	Codec          string       `yaml:"codec,omitempty"`
	Checksum       string       `yaml:"checksum"`
	Files          int          `yaml:"files"`
	TotalSize      uint64       `yaml:"total_size"`
	CompressedSize uint64       `yaml:"compressed_size,omitempty"`
	ArchiveSize    int          `yaml:"archive_size"`
	Records        []listedFile `yaml:"records"`
}

type listedFile struct {
	Path     string `yaml:"path"`
	Size     uint64 `yaml:"size"`
	Checksum string `yaml:"checksum"`
}

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <archive>",
		Short: "Show the header and file table of an archive",
		Long: `Print the variant, codec, checksum scheme and every file record of <archive>.
The data section is not read, so no passphrase is needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := lib.Inspect(args[0])
			if err != nil {
				return err
			}

			switch format := a.v.GetString("output"); format {
			case "text", "":
				return writeListingText(cmd.OutOrStdout(), manifest)
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(newListing(manifest)); err != nil {
					return fmt.Errorf("encode listing: %w", err)
				}
				return enc.Close()
			default:
				return usageError(fmt.Errorf("invalid output format %q: want text or yaml", format))
			}
		},
	}
	cmd.Flags().StringP("output", "o", "text", "output format: text or yaml")
	return cmd
}

func newListing(m *lib.Manifest) listing {
	l := listing{
		Variant:        m.Tags.Variant.String(),
		Checksum:       m.Tags.Checksum.String(),
		Files:          len(m.Records),
		TotalSize:      m.TotalSize,
		CompressedSize: m.CompressedSize,
		ArchiveSize:    m.ArchiveSize,
		Records:        make([]listedFile, 0, len(m.Records)),
	}
	if m.Tags.Codec != compress.CodecNone {
		l.Codec = m.Tags.Codec.String()
	}
	for _, r := range m.Records {
		l.Records = append(l.Records, listedFile{Path: r.Path, Size: r.Size, Checksum: r.Checksum.String()})
	}
	return l
}

func writeListingText(w io.Writer, m *lib.Manifest) error {
	l := newListing(m)
	fmt.Fprintf(w, "variant:  %s\n", l.Variant)
	if l.Codec != "" {
		fmt.Fprintf(w, "codec:    %s (%s compressed)\n", l.Codec, humanize.IBytes(l.CompressedSize))
	}
	fmt.Fprintf(w, "checksum: %s\n", l.Checksum)
	fmt.Fprintf(w, "files:    %s, %s\n", humanize.Comma(int64(l.Files)), humanize.IBytes(l.TotalSize))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIZE\tCHECKSUM\tPATH")
	for _, r := range l.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", humanize.IBytes(r.Size), r.Checksum, r.Path)
	}
	return tw.Flush()
}
