package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"lusl/pkg/archive"
	"lusl/pkg/secret"
)

// passphrase finds the archive passphrase: --passphrase-file first, then
// LUSL_PASSPHRASE or the config file, then an interactive prompt. confirm
// asks twice, for new archives.
func (a *app) passphrase(errOut io.Writer, confirm bool) (string, error) {
	if path := a.v.GetString("passphrase-file"); path != "" {
		return readPassphraseFile(path)
	}
	if value := a.v.GetString("passphrase"); value != "" {
		return value, nil
	}

	fd := int(a.stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", archive.Configurationf("no passphrase: use --passphrase-file, %s_PASSPHRASE or run from a terminal", envPrefix)
	}

	first, err := prompt(fd, errOut, "Passphrase: ")
	if err != nil {
		return "", err
	}
	if confirm {
		second, err := prompt(fd, errOut, "Confirm passphrase: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", archive.Configurationf("passphrases do not match")
		}
	}
	if first == "" {
		return "", archive.Configurationf("empty passphrase")
	}
	return first, nil
}

func prompt(fd int, errOut io.Writer, label string) (string, error) {
	fmt.Fprint(errOut, label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(errOut)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	defer secret.Zero(raw)
	return string(raw), nil
}

// readPassphraseFile reads a passphrase file, dropping one trailing
// newline so files written by editors and echo work as expected.
func readPassphraseFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", archive.NewIOError("read", path, err)
	}
	defer secret.Zero(raw)

	value := strings.TrimSuffix(strings.TrimSuffix(string(raw), "\n"), "\r")
	if value == "" {
		return "", archive.Configurationf("passphrase file %s is empty", path)
	}
	return value, nil
}
