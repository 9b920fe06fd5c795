package fmatrix

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// MatchRecord is the wire form of one correspondence.
// W1 and W2 default to 1 when omitted.
type MatchRecord struct {
	X1 float64  `json:"x1"`
	Y1 float64  `json:"y1"`
	W1 *float64 `json:"w1,omitempty"`
	X2 float64  `json:"x2"`
	Y2 float64  `json:"y2"`
	W2 *float64 `json:"w2,omitempty"`
}

// MatchFile is the JSON document carrying a correspondence set
type MatchFile struct {
	Source          string        `json:"source,omitempty"`
	Correspondences []MatchRecord `json:"correspondences"`
}

// Points converts the wire records to a PointSet
func (f *MatchFile) Points() PointSet {
	points := make(PointSet, len(f.Correspondences))
	for i, r := range f.Correspondences {
		c := Match(r.X1, r.Y1, r.X2, r.Y2)
		if r.W1 != nil {
			c.First.W = *r.W1
		}
		if r.W2 != nil {
			c.Second.W = *r.W2
		}
		points[i] = c
	}
	return points
}

// NewMatchFile builds the wire document for a point set
func NewMatchFile(source string, points PointSet) *MatchFile {
	f := &MatchFile{Source: source, Correspondences: make([]MatchRecord, len(points))}
	for i, c := range points {
		r := MatchRecord{X1: c.First.X, Y1: c.First.Y, X2: c.Second.X, Y2: c.Second.Y}
		if c.First.W != 1 {
			w := c.First.W
			r.W1 = &w
		}
		if c.Second.W != 1 {
			w := c.Second.W
			r.W2 = &w
		}
		f.Correspondences[i] = r
	}
	return f
}

// ParseCorrespondenceFile reads a correspondence file in JSON or plain text form
func ParseCorrespondenceFile(path string) (*MatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseCorrespondences(data)
}

// ParseCorrespondences detects the format of data and parses it.
// Documents starting with '{' are JSON, everything else is text.
func ParseCorrespondences(data []byte) (*MatchFile, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return ParseCorrespondenceJSON(trimmed)
	}
	points, err := ParseCorrespondenceText(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return NewMatchFile("", points), nil
}

// ParseCorrespondenceJSON parses a MatchFile document
func ParseCorrespondenceJSON(data []byte) (*MatchFile, error) {
	var f MatchFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	return &f, nil
}

// ParseCorrespondenceText parses "x1 y1 x2 y2" lines.
// Blank lines and lines starting with '#' are ignored.
func ParseCorrespondenceText(r io.Reader) (PointSet, error) {
	var points PointSet
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 4 {
			return nil, fmt.Errorf("line %d: want 4 values, got %d", line, len(fields))
		}
		var v [4]float64
		for i, f := range fields {
			parsed, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			v[i] = parsed
		}
		points = append(points, Match(v[0], v[1], v[2], v[3]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading correspondences: %w", err)
	}
	return points, nil
}

// PointSetSummary describes a correspondence set
type PointSetSummary struct {
	Count       int       `json:"count"`
	FirstBound  orb.Bound `json:"firstBound"`
	SecondBound orb.Bound `json:"secondBound"`
}

// Summarize returns the count and per-image bounding boxes of points
func Summarize(points PointSet) PointSetSummary {
	first := make(orb.MultiPoint, 0, len(points))
	second := make(orb.MultiPoint, 0, len(points))
	for _, c := range points {
		x1, y1 := c.First.Euclidean()
		x2, y2 := c.Second.Euclidean()
		first = append(first, orb.Point{x1, y1})
		second = append(second, orb.Point{x2, y2})
	}
	return PointSetSummary{
		Count:       len(points),
		FirstBound:  first.Bound(),
		SecondBound: second.Bound(),
	}
}
