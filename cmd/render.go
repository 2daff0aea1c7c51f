// File: cmd/render.go
package cmd

import (
	"fmt"
	"image/png"
	"io"
	"os"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loupe/internal/browser/dispatcher"
	"github.com/xkilldash9x/loupe/internal/browser/render"
	"github.com/xkilldash9x/loupe/internal/config"
	"github.com/xkilldash9x/loupe/internal/observability"
)

// pageSummary is the JSON report of a rendered page.
type pageSummary struct {
	ID            string                  `json:"id"`
	URL           string                  `json:"url,omitempty"`
	Title         string                  `json:"title"`
	Width         int                     `json:"width"`
	Height        int                     `json:"height"`
	ScrollY       float64                 `json:"scroll_y"`
	ContentHeight float64                 `json:"content_height"`
	TextRuns      int                     `json:"text_runs"`
	Links         []render.LinkRegion     `json:"links"`
	Anchors       []render.AnchorPosition `json:"anchors"`
	Console       string                  `json:"console,omitempty"`
	ScriptErrors  []string                `json:"script_errors,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Output        string                  `json:"output,omitempty"`
}

// renderOptions are the command-line overrides of the render command.
type renderOptions struct {
	output   string
	base     string
	width    int
	height   int
	scrollY  float64
	vm       string
	http3    bool
	insecure bool
	noScript bool
	asJSON   bool
}

func newRenderCmd() *cobra.Command {
	opts := &renderOptions{}
	renderCmd := &cobra.Command{
		Use:   "render <url|file|->",
		Short: "Renders a page to a PNG image",
		Long: `Renders a page to a PNG image.

An http or https argument is fetched. Anything else is read as a local
HTML file, or stdin for "-", and rendered with --base as its URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			applyRenderOptions(cmd, cfg, opts)
			return runRender(cmd, cfg, args[0], opts)
		},
	}

	f := renderCmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "page.png", "PNG output path; empty skips writing the image")
	f.StringVar(&opts.base, "base", "", "base URL for relative references in a local file")
	f.IntVar(&opts.width, "width", 0, "viewport width in pixels (overrides config)")
	f.IntVar(&opts.height, "height", 0, "viewport height in pixels (overrides config)")
	f.Float64Var(&opts.scrollY, "scroll", 0, "vertical scroll offset in pixels (overrides config)")
	f.StringVar(&opts.vm, "vm", "", "script VM: stack or register (overrides config)")
	f.BoolVar(&opts.http3, "http3", false, "prefer HTTP/3 where an Alt-Svc advertises it")
	f.BoolVar(&opts.insecure, "insecure", false, "skip TLS certificate verification")
	f.BoolVar(&opts.noScript, "no-script", false, "do not run page scripts")
	f.BoolVar(&opts.asJSON, "json", false, "print a JSON page summary to stdout")
	return renderCmd
}

// applyRenderOptions copies explicitly set flags over the loaded configuration.
func applyRenderOptions(cmd *cobra.Command, cfg config.Interface, opts *renderOptions) {
	flags := cmd.Flags()
	width, height := cfg.Render().ViewportWidth, cfg.Render().ViewportHeight
	if flags.Changed("width") {
		width = opts.width
	}
	if flags.Changed("height") {
		height = opts.height
	}
	cfg.SetRenderViewport(width, height)
	if flags.Changed("scroll") {
		cfg.SetRenderScrollY(opts.scrollY)
	}
	if flags.Changed("vm") {
		cfg.SetScriptVM(opts.vm)
	}
	if flags.Changed("http3") {
		cfg.SetNetworkPreferHTTP3(opts.http3)
	}
	if flags.Changed("insecure") {
		cfg.SetNetworkInsecureSkipVerify(opts.insecure)
	}
	if opts.noScript {
		cfg.SetScriptEnabled(false)
	}
}

func runRender(cmd *cobra.Command, cfg *config.Config, target string, opts *renderOptions) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	d, err := dispatcher.New(cfg, logger, dispatcher.WithMetrics(observability.NewMetrics()))
	if err != nil {
		return err
	}
	defer d.Close()

	scrollY := cfg.Render().ScrollY
	var page *dispatcher.Page
	if isRemote(target) {
		page, err = d.Load(ctx, target, scrollY)
	} else {
		var src []byte
		src, err = readSource(cmd.InOrStdin(), target)
		if err != nil {
			return err
		}
		page, err = d.Render(ctx, string(src), opts.base, scrollY)
	}
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", target, err)
	}

	if opts.output != "" {
		if err := writePNG(opts.output, page.Frame); err != nil {
			return err
		}
		logger.Info("Frame written", zap.String("path", opts.output), zap.Stringer("page_id", page.ID))
	}

	if opts.asJSON {
		return writeSummary(cmd.OutOrStdout(), summarize(page, cfg, opts.output))
	}
	if page.Err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", target, page.Err)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%q\t%d text runs\t%d links\n",
		page.ID, page.Title, page.Frame.TextRuns, len(page.Frame.Links))
	return nil
}

func isRemote(target string) bool {
	lower := strings.ToLower(target)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// readSource reads a local file, expanding ~, or stdin for "-".
func readSource(stdin io.Reader, target string) ([]byte, error) {
	if target == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	path, err := homedir.Expand(target)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %q: %w", target, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func writePNG(path string, frame *render.Frame) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to expand %q: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, frame.Image); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func summarize(page *dispatcher.Page, cfg config.Interface, output string) pageSummary {
	s := pageSummary{
		ID:            page.ID.String(),
		URL:           page.URL,
		Title:         page.Title,
		Width:         cfg.Render().ViewportWidth,
		Height:        cfg.Render().ViewportHeight,
		ScrollY:       cfg.Render().ScrollY,
		ContentHeight: page.Frame.ContentHeight,
		TextRuns:      page.Frame.TextRuns,
		Links:         page.Frame.Links,
		Anchors:       page.Frame.Anchors,
		Console:       page.Console,
		Output:        output,
	}
	if s.Links == nil {
		s.Links = []render.LinkRegion{}
	}
	if s.Anchors == nil {
		s.Anchors = []render.AnchorPosition{}
	}
	for _, err := range page.ScriptErrors {
		s.ScriptErrors = append(s.ScriptErrors, err.Error())
	}
	if page.Err != nil {
		s.Error = page.Err.Error()
	}
	return s
}

func writeSummary(w io.Writer, s pageSummary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
