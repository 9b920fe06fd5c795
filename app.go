package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/lmedsq/fmatrix"
)

// defaultConfigFile is used without error when it does not exist
const defaultConfigFile = "config.yaml"

// App encapsulates the application state and dependencies
type App struct {
	Config     *fmatrix.Config
	Store      *fmatrix.ResultStore
	MQTTClient *fmatrix.MQTTClient
	Publisher  *fmatrix.Publisher
	Out        io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	InputFile    string
	URL          string
	OutputFile   string
	RenderFormat string
	GeoJSONFile  string
	ResultCache  string
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Store: fmatrix.NewResultStore(),
		Out:   os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.InputFile = opts.InputFile
	a.URL = opts.URL
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.GeoJSONFile = opts.GeoJSONFile
	a.ResultCache = opts.ResultCache
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig loads the config file. A missing default config file falls
// back to DefaultConfig; any other missing file is an error.
func (a *App) loadConfig() (*fmatrix.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}
	path := a.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}
	if path == defaultConfigFile {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Printf("No %s found, using default configuration", path)
			a.Config = fmatrix.DefaultConfig()
			return a.Config, nil
		}
	}
	config, err := fmatrix.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded config from %s", path)
	a.Config = config
	return config, nil
}

// loadInput reads the correspondences named by -url or -input and returns
// them with their source name
func (a *App) loadInput() (string, fmatrix.PointSet, error) {
	var file *fmatrix.MatchFile
	var err error
	source := ""

	switch {
	case a.URL != "":
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		file, err = fmatrix.FetchCorrespondences(ctx, a.URL)
		source = a.URL
	case a.InputFile != "":
		file, err = fmatrix.ParseCorrespondenceFile(a.InputFile)
		source = strings.TrimSuffix(filepath.Base(a.InputFile), filepath.Ext(a.InputFile))
	default:
		return "", nil, fmt.Errorf("no input: use -input FILE or -url URL")
	}
	if err != nil {
		return "", nil, err
	}
	if file.Source != "" {
		source = file.Source
	}
	return source, file.Points(), nil
}

// estimatePoints builds a fresh estimator from config and runs it.
// Estimators are not safe for concurrent use, so every call gets its own.
func estimatePoints(config *fmatrix.Config, points fmatrix.PointSet) (*fmatrix.Result, error) {
	est, err := fmatrix.BuildEstimator(config, log.Default())
	if err != nil {
		return nil, err
	}
	return est.Estimate(points)
}

// estimateInput loads config and input and runs one estimation
func (a *App) estimateInput() (string, fmatrix.PointSet, *fmatrix.Result, error) {
	config, err := a.loadConfig()
	if err != nil {
		return "", nil, nil, err
	}
	source, points, err := a.loadInput()
	if err != nil {
		return "", nil, nil, err
	}
	summary := fmatrix.Summarize(points)
	log.Printf("Loaded %d correspondences from %s", summary.Count, source)

	result, err := estimatePoints(config, points)
	if err != nil {
		return source, points, nil, fmt.Errorf("estimating %s: %w", source, err)
	}
	return source, points, result, nil
}

// RunEstimate estimates the fundamental matrix of the input and prints it
func (a *App) RunEstimate() error {
	source, points, result, err := a.estimateInput()
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(a.Out, "=== %s ===\n", source)
	_, _ = fmt.Fprintf(a.Out, "Correspondences: %d\n", len(points))
	_, _ = fmt.Fprintf(a.Out, "Fundamental matrix:\n%v\n", result.Matrix)
	_, _ = fmt.Fprintf(a.Out, "Median residual: %.6g\n", result.Cost)
	_, _ = fmt.Fprintf(a.Out, "Inlier threshold: %.6g\n", result.Threshold)
	_, _ = fmt.Fprintf(a.Out, "Inliers: %d/%d (%.1f%%)\n",
		result.InlierCount, len(points), 100*result.InlierFraction())
	_, _ = fmt.Fprintf(a.Out, "Samples: %d, candidates: %d, run %s\n", result.Samples, result.Candidates, result.RunID)

	if a.ResultCache != "" {
		cache, err := fmatrix.LoadResultCache(a.ResultCache)
		if err != nil {
			log.Printf("Warning: failed to load result cache %s: %v", a.ResultCache, err)
		}
		if cache == nil {
			cache = fmatrix.NewResultCache()
		}
		cache.Put(source, points, result)
		if err := fmatrix.SaveResultCache(a.ResultCache, cache); err != nil {
			log.Printf("Warning: failed to save result cache: %v", err)
		} else {
			_, _ = fmt.Fprintf(a.Out, "Saved result to %s\n", a.ResultCache)
		}
	}

	if a.OutputFile != "" {
		data, err := json.MarshalIndent(fmatrix.NewResultMessage(source, result), "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		if err := os.WriteFile(a.OutputFile, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", a.OutputFile, err)
		}
		_, _ = fmt.Fprintf(a.Out, "Wrote %s\n", a.OutputFile)
	}
	return nil
}

// RunRender estimates the input and writes a diagnostic image
func (a *App) RunRender() error {
	source, points, result, err := a.estimateInput()
	if err != nil {
		return err
	}

	format := a.RenderFormat
	if format == "" {
		format = "svg"
	}
	output := a.OutputFile
	if output == "" {
		output = defaultRenderOutput(format)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	defer func() { _ = f.Close() }()

	if err := renderResult(f, format, source, points, result); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.Out, "Rendered %s (%s, %d/%d inliers)\n", output, format, result.InlierCount, len(points))
	return nil
}

func defaultRenderOutput(format string) string {
	switch format {
	case "png":
		return "epipolar.png"
	case "summary":
		return "residuals.png"
	default:
		return "epipolar.svg"
	}
}

// renderResult writes one diagnostic image in the given format
func renderResult(w io.Writer, format, source string, points fmatrix.PointSet, result *fmatrix.Result) error {
	switch format {
	case "svg":
		return fmatrix.NewVectorRenderer(points, result).RenderToSVG(w)
	case "png":
		return fmatrix.NewVectorRenderer(points, result).RenderToPNG(w)
	case "summary":
		return fmatrix.NewSummaryRenderer(source, result).RenderToPNG(w)
	default:
		return fmt.Errorf("unknown render format %q (want svg, png or summary)", format)
	}
}

// RunGeoJSON estimates the input and exports it as a GeoJSON FeatureCollection
func (a *App) RunGeoJSON() error {
	source, points, result, err := a.estimateInput()
	if err != nil {
		return err
	}

	fc := fmatrix.ResultToFeatureCollection(source, points, result, a.Config.Tolerances)
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling GeoJSON: %w", err)
	}
	if err := os.WriteFile(a.GeoJSONFile, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", a.GeoJSONFile, err)
	}
	_, _ = fmt.Fprintf(a.Out, "Wrote %d features to %s\n", len(fc.Features), a.GeoJSONFile)
	return nil
}

// handleMessage estimates a correspondence set received over MQTT, stores
// the estimate and publishes it
func (a *App) handleMessage(sourceID string, rawPayload []byte, file *fmatrix.MatchFile, err error) {
	if err != nil {
		log.Printf("[MQTT] dropping message for %s: %v", sourceID, err)
		return
	}

	points := file.Points()
	result, err := estimatePoints(a.Config, points)
	if err != nil {
		if errors.Is(err, fmatrix.ErrDegenerateInput) || errors.Is(err, fmatrix.ErrNoSolution) {
			log.Printf("[MQTT] %s: no estimate for %d correspondences: %v", sourceID, len(points), err)
		} else {
			log.Printf("[MQTT] %s: estimation failed: %v", sourceID, err)
		}
		return
	}

	a.Store.Update(sourceID, points, result)

	if a.Publisher != nil {
		if err := a.Publisher.PublishResult(sourceID, result); err != nil {
			log.Printf("[MQTT] error publishing result for %s: %v", sourceID, err)
		}
	}
}

// RunService runs the MQTT and/or HTTP service until interrupted
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting lmedsq service...")

	config, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if a.ResultCache != "" {
		a.Store = fmatrix.NewResultStoreWithCache(a.ResultCache)
		if a.Store.HasEstimates() {
			log.Printf("Loaded %d cached estimates from %s", len(a.Store.Sources()), a.ResultCache)
		}
	}
	for _, src := range config.Sources {
		if src.Color != "" {
			a.Store.SetColor(src.ID, src.Color)
		}
	}

	if a.MqttMode {
		mqttClient, err := fmatrix.InitMQTT(config, a.handleMessage)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = mqttClient
		a.Publisher = fmatrix.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix)
		fmt.Fprintln(a.Out, "MQTT result publisher initialized")
	}

	if a.HttpMode {
		httpServer := newHTTPServer(a.Store, config)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	a.printServiceInfo(config)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo(config *fmatrix.Config) {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintln(a.Out, "  Subscribed topics:")
		for _, src := range config.Sources {
			fmt.Fprintf(a.Out, "    - %s (%s)\n", src.Topic, src.ID)
		}
		prefix := config.MQTT.PublishPrefix
		if prefix == "" {
			prefix = "lmedsq"
		}
		fmt.Fprintf(a.Out, "  Publishing to: %s/{sourceID}\n", prefix)
		fmt.Fprintf(a.Out, "  Combined results: %s/results\n", prefix)
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET  /health            - Health check")
		fmt.Fprintln(a.Out, "  POST /estimate?source=  - Estimate a posted correspondence set")
		fmt.Fprintln(a.Out, "  GET  /results           - Latest estimate per source")
		fmt.Fprintln(a.Out, "  GET  /results/{id}      - Latest estimate for one source")
		fmt.Fprintln(a.Out, "  GET  /render.svg?id=    - Epipolar diagnostic (SVG)")
		fmt.Fprintln(a.Out, "  GET  /render.png?id=    - Epipolar diagnostic (PNG)")
		fmt.Fprintln(a.Out, "  GET  /summary.png?id=   - Residual profile")
		fmt.Fprintln(a.Out, "  GET  /geojson?id=       - GeoJSON export")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
