package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kwv/lmedsq/fmatrix"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile   string
	InputFile    string
	URL          string
	OutputFile   string
	RenderFormat string
	GeoJSONFile  string
	ResultCache  string
	HttpPort     int
	Estimate     bool
	Render       bool
	MqttMode     bool
	HttpMode     bool
}

// Runner is the set of modes the command line can dispatch to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunEstimate() error
	RunRender() error
	RunGeoJSON() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("Error: %v", err)
	}
}

// run parses args, applies them to app and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("lmedsq", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.InputFile, "input", "", "Correspondence file (JSON or \"x1 y1 x2 y2\" text)")
	fs.StringVar(&opts.URL, "url", "", "Fetch correspondences from this URL instead of -input")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for -estimate (JSON) and -render")
	fs.StringVar(&opts.RenderFormat, "format", "svg", "Render format: svg, png or summary")
	fs.StringVar(&opts.GeoJSONFile, "geojson", "", "Export correspondences and estimate as GeoJSON to this file")
	fs.StringVar(&opts.ResultCache, "result-cache", fmatrix.DefaultResultCachePath, "Path to result cache file")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.Estimate, "estimate", false, "Estimate the fundamental matrix of -input and exit")
	fs.BoolVar(&opts.Render, "render", false, "Render the epipolar diagnostic of -input and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server")

	if err := fs.Parse(args); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "lmedsq version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Estimate:
		return app.RunEstimate()
	case opts.Render:
		return app.RunRender()
	case opts.GeoJSONFile != "":
		return app.RunGeoJSON()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	_, _ = fmt.Fprintln(out, "Use -estimate -input FILE to estimate a fundamental matrix")
	_, _ = fmt.Fprintln(out, "Use -render -input FILE [-format svg|png|summary] to render diagnostics")
	_, _ = fmt.Fprintln(out, "Use -geojson OUT -input FILE to export GeoJSON")
	_, _ = fmt.Fprintln(out, "Use -mqtt and/or -http to run the estimation service")
	_, _ = fmt.Fprintln(out, "\nConfiguration:")
	_, _ = fmt.Fprintln(out, "  config.yaml - estimator, sampling, MQTT and source settings")
	_, _ = fmt.Fprintf(out, "  %s - latest estimate per source (cached)\n", fmatrix.DefaultResultCachePath)
	return nil
}
