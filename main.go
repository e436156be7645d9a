package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	longHelp = `padcheck analyzes the C structs and unions defined in a header and
reports every padding byte the compiler inserts between or after their
fields, and why.

Each aggregate is laid out again from the sizes and alignments of its
fields, and the result is verified against the size computed by the C type
checker (or the one passed with --sizes). A mismatch makes the command fail.

By default the host layout is used. Pass --32bit, --avr, --platform or any of
the per-type flags to lay the aggregates out for another target; in that
case pass --sizes too, or the results will not be verified.`

	bareUsage        = "just print the diagnostics without table formatting or graphics"
	verboseUsage     = "print more information, e.g. debug logs and verified sizes"
	optimizeUsage    = "suggests an optimized layout and shows related statistics"
	keepIgnoredUsage = "keep struct members whose name starts with an underscore"
	platformUsage    = "target platform: host, lp64, ilp32 or avr"
	s32bitUsage      = "sets the type size/alignment as on a 32bit system"
	avrUsage         = "sets the type size/alignment as on a AVR system"
	configUsage      = "YAML profile with platform, type overrides and defines"
	sizesUsage       = "YAML file mapping aggregate names to their observed size"
	typeUsage        = "only report the named aggregate, may be repeated"
	defineUsage      = "define a preprocessor macro, NAME or NAME=VALUE"
	codeUsage        = "C source to analyze, instead of a header file"
	sizeAlignUsage   = "sets the %s size/alignment, as comma-separated values"
)

var (
	Version = ""

	ErrSymbol = errors.New("cannot find symbol")

	// sizeAlignFlags are the type families that can be overridden from the
	// command line. The flag is named after the family.
	sizeAlignFlags = []struct {
		family string
		name   string
	}{
		{"ptr", "pointer"},
		{"enum", "enum"},
		{"char", "char"},
		{"short", "short"},
		{"int", "int"},
		{"long", "long"},
		{"longlong", "long long"},
		{"float", "float"},
		{"double", "double"},
		{"longdouble", "long double"},
	}
)

type options struct {
	bare        bool
	verbose     bool
	optimize    bool
	keepIgnored bool
	s32bit      bool
	avr         bool

	platform string
	config   string
	sizes    string
	code     string
	types    []string
	defines  []string

	sizeAlign map[string]*string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	if Version == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			Version = info.Main.Version
		}
	}

	opts := &options{sizeAlign: make(map[string]*string)}

	root := &cobra.Command{
		Use:           "padcheck [flags] [header]",
		Short:         "Find the padding hidden in C structs and unions",
		Long:          longHelp,
		Version:       Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(opts.verbose)
			if err != nil {
				return fmt.Errorf("could not create logger: %w", err)
			}
			SetLogger(l)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fname, cont, err := readSource(opts, args)
			if err != nil {
				return err
			}
			return run(cmd.OutOrStdout(), opts, fname, cont)
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&opts.bare, "bare", false, bareUsage)
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, verboseUsage)
	flags.BoolVar(&opts.optimize, "optimize", false, optimizeUsage)
	flags.BoolVar(&opts.keepIgnored, "keep-ignored", false, keepIgnoredUsage)
	flags.BoolVar(&opts.s32bit, "32bit", false, s32bitUsage)
	flags.BoolVar(&opts.avr, "avr", false, avrUsage)
	flags.StringVar(&opts.platform, "platform", "", platformUsage)
	flags.StringVar(&opts.config, "config", "", configUsage)
	flags.StringVar(&opts.sizes, "sizes", "", sizesUsage)
	flags.StringArrayVarP(&opts.types, "type", "t", nil, typeUsage)
	flags.StringArrayVarP(&opts.defines, "define", "D", nil, defineUsage)
	root.Flags().StringVar(&opts.code, "code", "", codeUsage)

	for _, meta := range sizeAlignFlags {
		value := new(string)
		opts.sizeAlign[meta.family] = value
		flags.StringVar(value, meta.family, "", fmt.Sprintf(sizeAlignUsage, meta.name))
	}

	root.MarkFlagsMutuallyExclusive("32bit", "avr", "platform")
	root.AddCommand(newWatchCmd(opts))
	return root
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [flags] header",
		Short: "Check a header again every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			check := func() {
				fname, cont, err := readSource(opts, args)
				if err == nil {
					err = run(out, opts, fname, cont)
				}
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
				}
			}

			check()
			return watchFile(ctx, args[0], defaultDebounce, check)
		},
	}
}

func readSource(opts *options, args []string) (string, string, error) {
	switch {
	case opts.code != "" && len(args) == 0:
		return "", opts.code, nil
	case opts.code != "":
		return "", "", errors.New("pass either a header or --code, not both")
	case len(args) == 1:
		cont, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to open file: %w", err)
		}
		return args[0], string(cont), nil
	default:
		return "", "", errors.New("a header file or --code is required")
	}
}

// buildConfig merges the configuration file, if any, with the command line.
func buildConfig(opts *options) (*Config, error) {
	cfg := &Config{}
	if opts.config != "" {
		var err error
		if cfg, err = LoadConfig(opts.config); err != nil {
			return nil, err
		}
	}

	switch {
	case opts.s32bit:
		cfg.Platform = "ilp32"
	case opts.avr:
		cfg.Platform = "avr"
	case opts.platform != "":
		cfg.Platform = opts.platform
	}

	for _, meta := range sizeAlignFlags {
		value, ok := opts.sizeAlign[meta.family]
		if !ok || *value == "" {
			continue
		}

		size, align, err := getSizeAlign(*value)
		if err != nil {
			return nil, fmt.Errorf("wrong option value: %s - %w", meta.name, err)
		}

		if cfg.Types == nil {
			cfg.Types = make(map[string][]int)
		}
		cfg.Types[meta.family] = []int{size, align}
	}

	cfg.KeepIgnored = cfg.KeepIgnored || opts.keepIgnored
	cfg.Defines = append(cfg.Defines, opts.defines...)
	if opts.sizes != "" {
		cfg.Sizes = opts.sizes
	}

	return cfg, nil
}

func run(out io.Writer, opts *options, fname, cont string) error {
	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}

	platform, err := cfg.BuildPlatform()
	if err != nil {
		return err
	}

	header, err := ExtractHeader(fname, cont, cfg.Defines)
	if err != nil {
		return err
	}
	aggregates := header.Aggregates

	selected, err := selectAggregates(aggregates, opts.types)
	if err != nil {
		return err
	}

	var sizes SizeSource
	switch {
	case cfg.Sizes != "":
		if sizes, err = LoadSizes(cfg.Sizes); err != nil {
			return err
		}
	case platform == nil:
		sizes = newCheckerSizes(aggregates)
	default:
		Logger().Warn("no sizes file for the selected platform, layouts will not be verified")
	}

	resolver := NewResolver(aggregates, platform, cfg.KeepIgnored)
	resolver.Typedefs = header.Typedefs

	checker := Checker{
		Resolver: resolver,
		Sizes:    sizes,
		Optimize: opts.optimize,
	}
	outcomes := checker.Check(selected)

	renderer := Renderer{
		Out:     out,
		Bare:    opts.bare || !isTerminal(out),
		Verbose: opts.verbose,
	}

	title := "padcheck"
	if fname != "" {
		title = fmt.Sprintf("padcheck - %s", fname)
	}
	renderer.Title(title)

	for _, outcome := range outcomes {
		renderer.Outcome(outcome)
	}

	return mismatchError(outcomes)
}

// selectAggregates keeps the aggregates known by one of names, in
// declaration order. With no names, every aggregate is kept.
func selectAggregates(aggregates []*Aggregate, names []string) ([]*Aggregate, error) {
	if len(names) == 0 {
		return aggregates, nil
	}

	var (
		selected []*Aggregate
		found    = make(map[string]bool)
	)

	for _, agg := range aggregates {
		matched := false
		for _, name := range GetAggregateNames(agg) {
			if slices.Contains(names, name) {
				found[name] = true
				matched = true
			}
		}
		if matched {
			selected = append(selected, agg)
		}
	}

	for _, name := range names {
		if !found[name] {
			return nil, fmt.Errorf("%w: %v", ErrSymbol, name)
		}
	}
	return selected, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
