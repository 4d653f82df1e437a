package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ironsheep/tumorscan/internal/config"
	"github.com/ironsheep/tumorscan/internal/pipeline"
	"github.com/ironsheep/tumorscan/internal/scanerr"
	"github.com/ironsheep/tumorscan/internal/server"
	"github.com/ironsheep/tumorscan/internal/visualize"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("tumorscan %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return
	case "--help", "-h", "help":
		printUsage(os.Stdout)
		return
	}

	// Configure logging to stderr (stdout carries results and MCP traffic)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "scan":
		code = runScan(ctx, os.Args[2:])
	case "serve":
		code = runServe(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage(os.Stderr)
		code = 2
	}
	os.Exit(code)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "tumorscan - tumor detection and visualization for medical images")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  tumorscan scan [flags] <image>   Detect and write visualizations, print JSON")
	fmt.Fprintln(w, "  tumorscan serve [flags]          Run the MCP server on stdin/stdout")
	fmt.Fprintln(w, "  tumorscan version                Print version information")
	fmt.Fprintln(w, "  tumorscan help                   Print this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Supported inputs: .png, .jpg, .jpeg, .dcm")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment variables (a .env file in the working directory is read first):")
	fmt.Fprintln(w, "  TUMORSCAN_CONFIG=path.yaml        Configuration file")
	fmt.Fprintln(w, "  TUMORSCAN_MODEL_BACKEND=onnx      Model backend (contrast or onnx)")
	fmt.Fprintln(w, "  TUMORSCAN_MODEL_PATH=...          Model file")
	fmt.Fprintln(w, "  TUMORSCAN_MODEL_METADATA=...      ONNX metadata JSON")
	fmt.Fprintln(w, "  TUMORSCAN_ORT_LIBRARY=...         onnxruntime shared library")
	fmt.Fprintln(w, "  TUMORSCAN_THRESHOLD=0.5           Decision threshold")
	fmt.Fprintln(w, "  TUMORSCAN_THRESHOLD_VERSION=name  Version reported for an overridden threshold")
	fmt.Fprintln(w, "  TUMORSCAN_OUTPUT_DIR=output       Visualization directory")
	fmt.Fprintln(w, "  TUMORSCAN_TIMEOUT=30s             Per-image deadline")
	fmt.Fprintln(w, "  TUMORSCAN_LOG_LEVEL=debug         Enable debug logging")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'tumorscan scan -h' or 'tumorscan serve -h' for flags.")
}

// commonFlags are accepted by both scan and serve.
type commonFlags struct {
	configPath string
	outputDir  string
	kinds      string
	threshold  float64
	slice      int
	timeout    time.Duration
	debug      bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML configuration file (overrides TUMORSCAN_CONFIG)")
	fs.StringVar(&c.outputDir, "out", "", "output directory for visualizations")
	fs.StringVar(&c.kinds, "kinds", "", "comma-separated artifact kinds (overlay,heatmap,crop,edges)")
	fs.Float64Var(&c.threshold, "threshold", -1, "decision threshold in [0,1]")
	fs.IntVar(&c.slice, "slice", 0, "DICOM frame index, -1 for the middle frame")
	fs.DurationVar(&c.timeout, "timeout", -1, "per-image deadline, 0 for none")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
}

// resolve loads the configuration and applies flags that were set.
func (c *commonFlags) resolve(fs *flag.FlagSet) (*config.Config, error) {
	cfg, err := config.Resolve(c.configPath)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["out"] {
		cfg.OutputDir = c.outputDir
	}
	if set["kinds"] {
		kinds, err := visualize.ParseKinds(c.kinds)
		if err != nil {
			return nil, err
		}
		cfg.Visualize.Kinds = kinds
	}
	if set["threshold"] {
		cfg.Thresholds = cfg.Thresholds.WithDecision(c.threshold)
	}
	if set["slice"] {
		cfg.Loader.SliceIndex = c.slice
	}
	if set["timeout"] {
		cfg.Timeout = c.timeout
	}
	if c.debug {
		cfg.LogLevel = config.LogLevelDebug
	}
	return cfg, cfg.Validate()
}

func runScan(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	baseName := fs.String("name", "", "base name for output files (default: input file name)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: tumorscan scan [flags] <image>")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	cfg, err := common.resolve(fs)
	if err != nil {
		return reportError(err)
	}
	logStartup(cfg)

	p, err := pipeline.New(cfg)
	if err != nil {
		return reportError(err)
	}
	defer p.Close()

	out, err := p.Run(ctx, pipeline.Request{Path: fs.Arg(0), BaseName: *baseName})
	if err != nil {
		return reportError(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Printf("Failed to encode result: %v", err)
		return 1
	}
	return 0
}

func runServe(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	eager := fs.Bool("preload", true, "load the model before accepting requests")
	_ = fs.Parse(args)

	cfg, err := common.resolve(fs)
	if err != nil {
		log.Printf("Configuration error: %v", err)
		return 1
	}
	logStartup(cfg)

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Printf("Pipeline error: %v", err)
		return 1
	}
	defer p.Close()

	if *eager {
		if err := p.Load(ctx); err != nil {
			log.Printf("Model error: %v", err)
			return 1
		}
	}

	srv := server.New(p, Version)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Server error: %v", err)
		return 1
	}
	return 0
}

func logStartup(cfg *config.Config) {
	if cfg.Debug() {
		log.Printf("tumorscan v%s (built %s, commit %s)", Version, BuildTime, GitCommit)
		log.Printf("backend=%s threshold=%v (%s) kinds=%v output=%s timeout=%s",
			cfg.Model.Backend, cfg.Thresholds.Decision, cfg.Thresholds.Version,
			cfg.Visualize.Kinds, cfg.OutputDir, cfg.Timeout)
	}
}

// scanFailure is printed on stdout instead of an Output when a scan fails.
type scanFailure struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// reportError prints err as JSON and returns the process exit code.
func reportError(err error) int {
	log.Printf("Scan failed: %v", err)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(scanFailure{Code: scanerr.Code(err), Error: err.Error()})
	return 1
}
