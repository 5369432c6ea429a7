package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livewatch/livewatch/internal/output"
)

const (
	flagOutputFormat = "output-format"
	flagOut          = "out"
	flagOutDir       = "out-dir"
)

// addOutputFlags registers --output-format, --out and --out-dir.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagOutputFormat, string(output.FormatTable), "Output format: table|json|markdown")
	cmd.Flags().String(flagOut, "", "Write output to a file (default stdout)")
	cmd.Flags().String(flagOutDir, "", "Write output to a directory")
}

// outputOptions is the parsed form of the output flags.
type outputOptions struct {
	format output.Format
	file   string
	dir    string
}

func parseOutputOptions(cmd *cobra.Command) (outputOptions, error) {
	var opts outputOptions
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return opts, err
	}
	opts.format = format
	if opts.file, err = trimmedFlag(cmd, flagOut); err != nil {
		return opts, err
	}
	if opts.dir, err = trimmedFlag(cmd, flagOutDir); err != nil {
		return opts, err
	}
	if opts.file != "" && opts.dir != "" {
		return opts, fmt.Errorf("--%s and --%s are mutually exclusive", flagOut, flagOutDir)
	}
	return opts, nil
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString(flagOutputFormat)
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

func trimmedFlag(cmd *cobra.Command, name string) (string, error) {
	value, err := cmd.Flags().GetString(name)
	return strings.TrimSpace(value), err
}

// destination returns the file to write for a result named name, or "" for
// stdout.
func (o outputOptions) destination(name string) (string, error) {
	if o.dir == "" {
		if o.file == "-" {
			return "", nil
		}
		return o.file, nil
	}
	dir, err := filepath.Abs(o.dir)
	if err != nil {
		dir = o.dir
	}
	return filepath.Join(dir, stemFor(name)+"."+o.format.Extension()), nil
}

var unsafeStem = regexp.MustCompile(`[^a-z0-9._-]+`)

// stemFor turns a result name like "Status List" into "status-list".
func stemFor(name string) string {
	stem := unsafeStem.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	if stem = strings.Trim(stem, "-."); stem == "" {
		return "output"
	}
	return stem
}

// emit renders a result with the formatter chosen by the output flags and
// writes it to stdout, --out or <out-dir>/<name>.<ext>.
func emit(cmd *cobra.Command, name string, render func(output.Formatter) (string, error)) error {
	opts, err := parseOutputOptions(cmd)
	if err != nil {
		return err
	}
	path, err := opts.destination(name)
	if err != nil {
		return err
	}
	rendered, err := render(output.NewFormatter(opts.format))
	if err != nil {
		return err
	}
	return writeRendered(path, cmd.OutOrStdout(), rendered)
}

func writeRendered(path string, stdout io.Writer, rendered string) error {
	if path == "" {
		_, err := fmt.Fprintln(stdout, rendered)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(file, rendered); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
