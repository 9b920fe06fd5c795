package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kwv/lmedsq/fmatrix"
)

// maxRequestBytes limits POST /estimate bodies to 50 MB
const maxRequestBytes = 50 << 20

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(store *fmatrix.ResultStore, config *fmatrix.Config) http.Handler {
	if config == nil {
		config = fmatrix.DefaultConfig()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			HasResults bool      `json:"hasResults"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			HasResults: store.HasEstimates(),
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("POST /estimate", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		if err != nil {
			http.Error(w, fmt.Sprintf("reading body: %v", err), http.StatusBadRequest)
			return
		}
		file, err := fmatrix.ParseCorrespondences(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		source := r.URL.Query().Get("source")
		if source == "" {
			source = file.Source
		}
		if source == "" {
			source = "default"
		}

		points := file.Points()
		result, err := estimatePoints(config, points)
		if err != nil {
			switch {
			case errors.Is(err, fmatrix.ErrDegenerateInput), errors.Is(err, fmatrix.ErrNoSolution):
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			default:
				log.Printf("[HTTP] estimation for %s failed: %v", source, err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}

		store.Update(source, points, result)
		writeJSON(w, http.StatusOK, fmatrix.NewResultMessage(source, result))
	})

	mux.HandleFunc("GET /results", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.GetAll())
	})

	mux.HandleFunc("GET /results/{id}", func(w http.ResponseWriter, r *http.Request) {
		est, ok := store.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "No result for source", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, est)
	})

	mux.HandleFunc("GET /render.svg", func(w http.ResponseWriter, r *http.Request) {
		est, ok := lookupEstimate(w, r, store)
		if !ok {
			return
		}
		renderer := fmatrix.NewVectorRenderer(est.Points, est.Result)
		applySourceColor(renderer, est.Color)

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("[HTTP] error rendering SVG for %s: %v", est.Source, err)
		}
	})

	mux.HandleFunc("GET /render.png", func(w http.ResponseWriter, r *http.Request) {
		est, ok := lookupEstimate(w, r, store)
		if !ok {
			return
		}
		renderer := fmatrix.NewVectorRenderer(est.Points, est.Result)
		applySourceColor(renderer, est.Color)

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToPNG(w); err != nil {
			log.Printf("[HTTP] error rendering PNG for %s: %v", est.Source, err)
		}
	})

	mux.HandleFunc("GET /summary.png", func(w http.ResponseWriter, r *http.Request) {
		est, ok := lookupEstimate(w, r, store)
		if !ok {
			return
		}
		renderer := fmatrix.NewSummaryRenderer(est.Source, est.Result)
		if est.Color != "" {
			renderer.Color = fmatrix.ParseHexColor(est.Color)
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToPNG(w); err != nil {
			log.Printf("[HTTP] error rendering summary for %s: %v", est.Source, err)
		}
	})

	mux.HandleFunc("GET /geojson", func(w http.ResponseWriter, r *http.Request) {
		est, ok := lookupEstimate(w, r, store)
		if !ok {
			return
		}
		fc := fmatrix.ResultToFeatureCollection(est.Source, est.Points, est.Result, config.Tolerances)
		data, err := fc.MarshalJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(data)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

// lookupEstimate resolves the ?id= query parameter. Without an id the only
// stored source is used. It writes the error response itself on failure.
func lookupEstimate(w http.ResponseWriter, r *http.Request, store *fmatrix.ResultStore) (*fmatrix.Estimate, bool) {
	sources := store.Sources()
	if len(sources) == 0 {
		http.Error(w, "No results available", http.StatusServiceUnavailable)
		return nil, false
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		if len(sources) > 1 {
			http.Error(w, "Missing id parameter", http.StatusBadRequest)
			return nil, false
		}
		id = sources[0]
	}

	est, ok := store.Get(id)
	if !ok {
		http.Error(w, "No result for source", http.StatusNotFound)
		return nil, false
	}
	return est, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] error encoding response: %v", err)
	}
}

// applySourceColor colors the inlier markers with the source color and
// derives darker epipolar lines from it
func applySourceColor(renderer *fmatrix.VectorRenderer, hex string) {
	if hex == "" {
		return
	}
	c := fmatrix.ParseHexColor(hex)
	base := color.NRGBA{c.R, c.G, c.B, 255}
	renderer.Colors.Inlier = base
	epipolar := darkenColor(base)
	epipolar.A = 120
	renderer.Colors.Epipolar = epipolar
}

// darkenColor creates a darker version of a color
func darkenColor(c color.NRGBA) color.NRGBA {
	factor := 0.5
	return color.NRGBA{
		R: uint8(float64(c.R) * factor),
		G: uint8(float64(c.G) * factor),
		B: uint8(float64(c.B) * factor),
		A: 255,
	}
}
