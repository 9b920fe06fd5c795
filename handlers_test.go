package main

import (
	"encoding/json"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"

	"github.com/kwv/lmedsq/fmatrix"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// populatedStore returns a store holding one estimate per id
func populatedStore(t *testing.T, ids ...string) *fmatrix.ResultStore {
	t.Helper()
	store := fmatrix.NewResultStore()
	points := rectifiedMatches(40, 10)
	for _, id := range ids {
		result, err := estimatePoints(testConfig(t), points)
		if err != nil {
			t.Fatalf("estimatePoints() error: %v", err)
		}
		store.Update(id, points, result)
	}
	return store
}

func serve(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// darkenColor
// ---------------------------------------------------------------------------

func TestDarkenColor(t *testing.T) {
	tests := []struct {
		name  string
		input color.NRGBA
		want  color.NRGBA
	}{
		{
			name:  "zero values",
			input: color.NRGBA{R: 0, G: 0, B: 0, A: 255},
			want:  color.NRGBA{R: 0, G: 0, B: 0, A: 255},
		},
		{
			name:  "full white",
			input: color.NRGBA{R: 255, G: 255, B: 255, A: 255},
			want:  color.NRGBA{R: 127, G: 127, B: 127, A: 255}, // floor(255*0.5)
		},
		{
			name:  "mid values",
			input: color.NRGBA{R: 200, G: 100, B: 50, A: 200},
			want:  color.NRGBA{R: 100, G: 50, B: 25, A: 255}, // alpha always 255
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := darkenColor(tt.input)
			if got != tt.want {
				t.Errorf("darkenColor(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// applySourceColor
// ---------------------------------------------------------------------------

func TestApplySourceColor_Empty(t *testing.T) {
	renderer := fmatrix.NewVectorRenderer(rectifiedMatches(10, 0), nil)
	applySourceColor(renderer, "")

	if renderer.Colors != fmatrix.DefaultMatchColors() {
		t.Errorf("colors changed without a source color: %+v", renderer.Colors)
	}
}

func TestApplySourceColor_ValidHex(t *testing.T) {
	renderer := fmatrix.NewVectorRenderer(rectifiedMatches(10, 0), nil)
	applySourceColor(renderer, "#C86432")

	if want := (color.NRGBA{200, 100, 50, 255}); renderer.Colors.Inlier != want {
		t.Errorf("Inlier = %v, want %v", renderer.Colors.Inlier, want)
	}
	if want := (color.NRGBA{100, 50, 25, 120}); renderer.Colors.Epipolar != want {
		t.Errorf("Epipolar = %v, want %v", renderer.Colors.Epipolar, want)
	}
	if renderer.Colors.Outlier != fmatrix.DefaultMatchColors().Outlier {
		t.Error("Outlier color should keep its default")
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /health
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	tests := []struct {
		name  string
		store *fmatrix.ResultStore
		want  bool
	}{
		{"no results", fmatrix.NewResultStore(), false},
		{"with results", populatedStore(t, "cam-a"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newHTTPServer(tt.store, nil), http.MethodGet, "/health", "")
			if w.Code != http.StatusOK {
				t.Fatalf("/health status = %d, want %d", w.Code, http.StatusOK)
			}

			var body struct {
				Status     string `json:"status"`
				HasResults bool   `json:"hasResults"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode /health response: %v", err)
			}
			if body.Status != "ok" {
				t.Errorf("status = %q, want %q", body.Status, "ok")
			}
			if body.HasResults != tt.want {
				t.Errorf("hasResults = %v, want %v", body.HasResults, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- POST /estimate
// ---------------------------------------------------------------------------

func TestEstimate_Success(t *testing.T) {
	store := fmatrix.NewResultStore()
	handler := newHTTPServer(store, testConfig(t))

	w := serve(handler, http.MethodPost, "/estimate?source=cam-a", matchesText(rectifiedMatches(40, 10)))
	if w.Code != http.StatusOK {
		t.Fatalf("POST /estimate status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var msg fmatrix.ResultMessage
	if err := json.NewDecoder(w.Body).Decode(&msg); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if msg.Source != "cam-a" {
		t.Errorf("source = %q, want cam-a", msg.Source)
	}
	if msg.Total != 40 {
		t.Errorf("total = %d, want 40", msg.Total)
	}
	if msg.InlierCount < 25 {
		t.Errorf("inlierCount = %d, want at least 25", msg.InlierCount)
	}

	if _, ok := store.Get("cam-a"); !ok {
		t.Error("estimate was not stored")
	}
}

func TestEstimate_SourceFromDocument(t *testing.T) {
	store := fmatrix.NewResultStore()
	handler := newHTTPServer(store, testConfig(t))

	body, err := json.Marshal(fmatrix.NewMatchFile("doc-source", rectifiedMatches(40, 10)))
	if err != nil {
		t.Fatal(err)
	}
	w := serve(handler, http.MethodPost, "/estimate", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("POST /estimate status = %d, want %d", w.Code, http.StatusOK)
	}
	if _, ok := store.Get("doc-source"); !ok {
		t.Errorf("expected estimate under doc-source, have %v", store.Sources())
	}
}

func TestEstimate_Errors(t *testing.T) {
	handler := newHTTPServer(fmatrix.NewResultStore(), testConfig(t))

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"bad body", http.MethodPost, "not four numbers", http.StatusBadRequest},
		{"bad json", http.MethodPost, "{not json", http.StatusBadRequest},
		{"too few points", http.MethodPost, matchesText(rectifiedMatches(5, 0)), http.StatusUnprocessableEntity},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(handler, tt.method, "/estimate", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- /results
// ---------------------------------------------------------------------------

func TestResults(t *testing.T) {
	handler := newHTTPServer(populatedStore(t, "cam-a", "cam-b"), nil)

	w := serve(handler, http.MethodGet, "/results", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/results status = %d", w.Code)
	}
	var all map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&all); err != nil {
		t.Fatalf("failed to decode /results: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d results, want 2", len(all))
	}

	w = serve(handler, http.MethodGet, "/results/cam-b", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/results/cam-b status = %d", w.Code)
	}
	var one struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(w.Body).Decode(&one); err != nil {
		t.Fatalf("failed to decode /results/cam-b: %v", err)
	}
	if one.Source != "cam-b" {
		t.Errorf("source = %q, want cam-b", one.Source)
	}

	w = serve(handler, http.MethodGet, "/results/cam-z", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("/results/cam-z status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- render endpoints without results (503 paths)
// ---------------------------------------------------------------------------

var renderEndpoints = []string{
	"/render.svg",
	"/render.png",
	"/summary.png",
	"/geojson",
}

func TestEndpoints_NoResults_503(t *testing.T) {
	handler := newHTTPServer(fmatrix.NewResultStore(), nil)

	for _, ep := range renderEndpoints {
		t.Run(ep, func(t *testing.T) {
			w := serve(handler, http.MethodGet, ep, "")
			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("%s status = %d, want %d", ep, w.Code, http.StatusServiceUnavailable)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- source selection
// ---------------------------------------------------------------------------

func TestEndpoints_SourceSelection(t *testing.T) {
	handler := newHTTPServer(populatedStore(t, "cam-a", "cam-b"), nil)

	for _, ep := range renderEndpoints {
		t.Run(ep, func(t *testing.T) {
			if w := serve(handler, http.MethodGet, ep, ""); w.Code != http.StatusBadRequest {
				t.Errorf("%s without id status = %d, want %d", ep, w.Code, http.StatusBadRequest)
			}
			if w := serve(handler, http.MethodGet, ep+"?id=cam-z", ""); w.Code != http.StatusNotFound {
				t.Errorf("%s unknown id status = %d, want %d", ep, w.Code, http.StatusNotFound)
			}
			if w := serve(handler, http.MethodGet, ep+"?id=cam-b", ""); w.Code != http.StatusOK {
				t.Errorf("%s?id=cam-b status = %d, want %d", ep, w.Code, http.StatusOK)
			}
		})
	}
}

func TestEndpoints_SingleSourceAutoSelects(t *testing.T) {
	handler := newHTTPServer(populatedStore(t, "only"), nil)

	for _, ep := range renderEndpoints {
		t.Run(ep, func(t *testing.T) {
			if w := serve(handler, http.MethodGet, ep, ""); w.Code != http.StatusOK {
				t.Errorf("%s status = %d, want %d", ep, w.Code, http.StatusOK)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// newHTTPServer -- render output
// ---------------------------------------------------------------------------

func TestRenderSVG(t *testing.T) {
	w := serve(newHTTPServer(populatedStore(t, "cam-a"), nil), http.MethodGet, "/render.svg", "")

	if ct := w.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("Content-Type = %q, want image/svg+xml", ct)
	}
	if !strings.Contains(w.Body.String(), "<svg") {
		t.Error("body is not an SVG document")
	}
}

func TestRenderPNG(t *testing.T) {
	for _, ep := range []string{"/render.png", "/summary.png"} {
		t.Run(ep, func(t *testing.T) {
			w := serve(newHTTPServer(populatedStore(t, "cam-a"), nil), http.MethodGet, ep, "")

			if ct := w.Header().Get("Content-Type"); ct != "image/png" {
				t.Errorf("Content-Type = %q, want image/png", ct)
			}
			if _, err := png.Decode(w.Body); err != nil {
				t.Errorf("body is not a valid PNG: %v", err)
			}
		})
	}
}

func TestSummaryPNG_WithSourceColor(t *testing.T) {
	store := fmatrix.NewResultStore()
	store.SetColor("cam-a", "#0000FF")
	points := rectifiedMatches(40, 10)
	result, err := estimatePoints(testConfig(t), points)
	if err != nil {
		t.Fatal(err)
	}
	store.Update("cam-a", points, result)

	w := serve(newHTTPServer(store, nil), http.MethodGet, "/summary.png", "")
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("body is not a valid PNG: %v", err)
	}

	blue, green := 0, 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch color.RGBAModel.Convert(img.At(x, y)).(color.RGBA) {
			case color.RGBA{0, 0, 255, 255}:
				blue++
			case color.RGBA{0, 128, 0, 255}:
				green++
			}
		}
	}
	if blue == 0 {
		t.Error("no inlier bars drawn in the source color")
	}
	if green != 0 {
		t.Errorf("%d pixels still use the default inlier color", green)
	}
}

func TestGeoJSON(t *testing.T) {
	w := serve(newHTTPServer(populatedStore(t, "cam-a"), nil), http.MethodGet, "/geojson", "")

	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("Content-Type = %q, want application/geo+json", ct)
	}
	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	if err != nil {
		t.Fatalf("invalid GeoJSON: %v", err)
	}
	if len(fc.Features) < 40 {
		t.Errorf("got %d features, want at least 40", len(fc.Features))
	}
}
