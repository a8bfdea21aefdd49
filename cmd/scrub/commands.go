package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/inspect"
	"github.com/safesend/safesend/internal/logger"
	"github.com/safesend/safesend/internal/media"
	"github.com/safesend/safesend/internal/pipeline"
	"github.com/safesend/safesend/internal/validate"
	"github.com/safesend/safesend/internal/version"
	"github.com/safesend/safesend/internal/workspace"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// errMetadataFound makes `inspect --strict` exit non-zero.
var errMetadataFound = errors.New("metadata found")

type rootOptions struct {
	configPath string
	verbose    bool
}

// env is what every command needs once flags are parsed.
type env struct {
	fs  afero.Fs
	cfg config.Config
	log *slog.Logger
}

// NewRootCommand returns the scrub command tree.
func NewRootCommand(fsys afero.Fs) *cobra.Command {
	opts := &rootOptions{}
	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:           "scrub",
		Short:         "Strip identifying metadata from photos and videos.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Path to config.toml or config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at the configured level instead of warnings only")

	load := func(cmd *cobra.Command) (env, error) {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return env{}, fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return env{}, fmt.Errorf("invalid config: %w", err)
		}
		level := "warn"
		if opts.verbose {
			level = cfg.Log.Level
		}
		return env{fs: fsys, cfg: cfg, log: logger.New(cmd.ErrOrStderr(), level, cfg.Log.Format)}, nil
	}

	rootCmd.AddCommand(newCleanCommand(media.MediaTypeImage, load))
	rootCmd.AddCommand(newCleanCommand(media.MediaTypeVideo, load))
	rootCmd.AddCommand(newInspectCommand(load))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newCleanCommand(kind media.MediaType, load func(*cobra.Command) (env, error)) *cobra.Command {
	return &cobra.Command{
		Use:     string(kind) + " IN OUT",
		Example: fmt.Sprintf("$ scrub %s holiday%s cleaned%s\n$ cat in | scrub %s - - > out", kind, sampleExt(kind), kind.OutputExtension(), kind),
		Short:   fmt.Sprintf("Remove metadata from a %s (use - for stdin/stdout)", kind),
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load(cmd)
			if err != nil {
				return err
			}
			return runClean(cmd, e, kind, args[0], args[1])
		},
	}
}

func sampleExt(kind media.MediaType) string {
	if kind == media.MediaTypeVideo {
		return ".mov"
	}
	return ".png"
}

func runClean(cmd *cobra.Command, e env, kind media.MediaType, in, out string) error {
	if out == "-" && isTerminal(cmd.OutOrStdout()) {
		return errors.New("refusing to write binary data to a terminal; redirect stdout or pass a file name")
	}

	var body io.Reader
	var name string
	var size int64
	if in == "-" {
		body = cmd.InOrStdin()
	} else {
		f, err := e.fs.Open(in)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		body, name = f, filepath.Base(in)
	}

	return workspace.With(e.log, afero.NewOsFs(), workspaceOptions(e.cfg), func(ws *workspace.Workspace) error {
		var written int64
		svc := newPipeline(e, ws, kind)
		res := svc.Process(cmd.Context(), pipeline.Request{Kind: kind, Name: name, Size: size, Body: body},
			func(_ context.Context, o pipeline.Output) error {
				rc, err := o.Open()
				if err != nil {
					return err
				}
				defer rc.Close()
				w, closeOut, err := openOutput(cmd, e.fs, out)
				if err != nil {
					return err
				}
				written, err = io.Copy(w, rc)
				if cerr := closeOut(); err == nil {
					err = cerr
				}
				return err
			})
		if !res.OK() {
			fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("✗ "+res.Reason))
			return res.Err()
		}
		if out != "-" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %s\n", okStyle.Render("✓"), out, dimStyle.Render("("+humanize.IBytes(uint64(written))+")"))
		}
		return nil
	})
}

func openOutput(cmd *cobra.Command, fsys afero.Fs, out string) (io.Writer, func() error, error) {
	if out == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := fsys.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

func newInspectCommand(load func(*cobra.Command) (env, error)) *cobra.Command {
	var asJSON, strict bool
	cmd := &cobra.Command{
		Use:     "inspect FILE...",
		Aliases: []string{"i"},
		Example: "$ scrub inspect photo.jpg clip.mp4",
		Short:   "List the metadata carriers a file still holds",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load(cmd)
			if err != nil {
				return err
			}
			return runInspect(cmd, e.fs, args, asJSON, strict)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON report per line")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any file holds metadata")
	return cmd
}

type fileReport struct {
	Path string `json:"path"`
	inspect.Report
	Error string `json:"error,omitempty"`
}

func runInspect(cmd *cobra.Command, fsys afero.Fs, paths []string, asJSON, strict bool) error {
	w := cmd.OutOrStdout()
	enc := json.NewEncoder(w)
	dirty, failed := 0, 0
	for _, path := range paths {
		rep, err := inspect.File(fsys, path)
		switch {
		case err != nil && !errors.Is(err, inspect.ErrTruncated):
			failed++
		case !rep.Clean():
			dirty++
		}
		if asJSON {
			fr := fileReport{Path: path, Report: rep}
			if err != nil {
				fr.Error = err.Error()
			}
			if err := enc.Encode(fr); err != nil {
				return err
			}
			continue
		}
		printReport(w, path, rep, err)
	}
	if failed > 0 {
		return fmt.Errorf("could not inspect %d file(s)", failed)
	}
	if strict && dirty > 0 {
		return fmt.Errorf("%w in %d file(s)", errMetadataFound, dirty)
	}
	return nil
}

func printReport(w io.Writer, path string, rep inspect.Report, err error) {
	if err != nil && !errors.Is(err, inspect.ErrTruncated) {
		fmt.Fprintf(w, "%s %s: %v\n", errorStyle.Render("✗"), path, err)
		return
	}
	format := dimStyle.Render(rep.Format)
	if rep.Clean() {
		fmt.Fprintf(w, "%s %s %s clean\n", okStyle.Render("✓"), path, format)
	} else {
		fmt.Fprintf(w, "%s %s %s %d carrier(s)\n", warnStyle.Render("!"), path, format, len(rep.Carriers))
		for _, c := range rep.Carriers {
			fmt.Fprintf(w, "    %-10s %-24s %s\n", c.Kind, c.Where, dimStyle.Render(humanize.IBytes(uint64(c.Size))))
		}
		if rep.GPS {
			fmt.Fprintf(w, "    %s\n", warnStyle.Render("location data present"))
		}
	}
	if err != nil {
		fmt.Fprintf(w, "    %s\n", warnStyle.Render("container is truncated"))
	}
}

func newVersionCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(version.Current())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scrub %s %s\n", version.GetInfo(), dimStyle.Render(version.Current().GoVersion))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// workspaceOptions always selects a fresh private directory, never the
// configured one a running server may own.
func workspaceOptions(cfg config.Config) workspace.Options {
	opts := workspace.OptionsFromConfig(cfg.Workspace, cfg.Sanitizer)
	opts.Dir = ""
	return opts
}

// newPipeline wires a single-use pipeline. Videos get the real encoder;
// images never need it.
func newPipeline(e env, ws *workspace.Workspace, kind media.MediaType) *pipeline.Service {
	var enc media.Encoder
	if kind == media.MediaTypeVideo {
		enc = media.NewFFmpeg(e.log, e.cfg.Sanitizer.FFmpegPath)
	}
	v := validate.New(e.log, ws.Fs(), e.cfg.Sanitizer)
	rm := media.NewRemover(e.log, v, ws.Fs(), enc, e.cfg.Sanitizer)
	return pipeline.NewService(e.log, ws, rm, e.cfg.Pipeline)
}
