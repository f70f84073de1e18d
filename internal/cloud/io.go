package cloud

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sqfit/internal/fsutil"
)

// Load reads a point cloud from path, choosing the format by extension:
// .pcd is PCD, while .asc, .xyz and .txt are whitespace-separated text.
func Load(fsys fsutil.FileSystem, path string) (*SampleSet, error) {
	read, err := readerFor(path)
	if err != nil {
		return nil, err
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return set, nil
}

// Save writes set to path in the format implied by its extension.
func Save(fsys fsutil.FileSystem, path string, set *SampleSet) error {
	var write func(io.Writer, *SampleSet) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcd":
		write = WritePCD
	case ".asc", ".xyz", ".txt":
		write = WriteASC
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, set); err != nil {
		f.Close()
		return fmt.Errorf("save %s: %w", path, err)
	}
	return f.Close()
}

func readerFor(path string) (func(io.Reader) (*SampleSet, error), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcd":
		return ReadPCD, nil
	case ".asc", ".xyz", ".txt":
		return ReadASC, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// ReadASC parses whitespace-separated rows whose first three columns are
// X Y Z. Extra columns are ignored; blank lines and lines starting with
// '#' or '//' are skipped.
func ReadASC(r io.Reader) (*SampleSet, error) {
	sc := bufio.NewScanner(r)
	var pts []r3.Vec
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "//") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: line %d: want at least 3 columns, got %d", ErrMalformed, line, len(fields))
		}
		p, err := parseXYZ(fields[0], fields[1], fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}
		pts = append(pts, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &SampleSet{pts: pts}, nil
}

// WriteASC writes one "X Y Z" row per point under a comment header.
func WriteASC(w io.Writer, set *SampleSet) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Exported points\n")
	fmt.Fprintf(bw, "# Format: X Y Z\n")
	for i := 0; i < set.Len(); i++ {
		p := set.At(i)
		fmt.Fprintf(bw, "%.6f %.6f %.6f\n", p.X, p.Y, p.Z)
	}
	return bw.Flush()
}

// pcdHeader is the subset of a PCD v0.7 header needed to locate x, y, z.
type pcdHeader struct {
	fields []string
	counts []int
	points int
	data   string
}

// column returns the data column holding the first element of field.
func (h *pcdHeader) column(field string) int {
	col := 0
	for i, f := range h.fields {
		if f == field {
			return col
		}
		col += h.counts[i]
	}
	return -1
}

// ReadPCD parses a PCD file with DATA ascii. Binary payloads return
// ErrUnsupportedPCD. NaN coordinates are kept.
func ReadPCD(r io.Reader) (*SampleSet, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var h pcdHeader
	h.points = -1
	line := 0
	for h.data == "" && sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		switch strings.ToUpper(fields[0]) {
		case "FIELDS":
			h.fields = fields[1:]
		case "COUNT":
			for _, c := range fields[1:] {
				n, err := strconv.Atoi(c)
				if err != nil || n < 1 {
					return nil, fmt.Errorf("%w: line %d: bad COUNT %q", ErrMalformed, line, c)
				}
				h.counts = append(h.counts, n)
			}
		case "POINTS":
			if len(fields) != 2 {
				return nil, fmt.Errorf("%w: line %d: bad POINTS", ErrMalformed, line)
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: line %d: bad POINTS %q", ErrMalformed, line, fields[1])
			}
			h.points = n
		case "DATA":
			if len(fields) != 2 {
				return nil, fmt.Errorf("%w: line %d: bad DATA", ErrMalformed, line)
			}
			h.data = strings.ToLower(fields[1])
		case "VERSION", "SIZE", "TYPE", "WIDTH", "HEIGHT", "VIEWPOINT":
		default:
			return nil, fmt.Errorf("%w: line %d: unknown header key %q", ErrMalformed, line, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if h.data == "" {
		return nil, fmt.Errorf("%w: missing DATA line", ErrMalformed)
	}
	if h.data != "ascii" {
		return nil, fmt.Errorf("%w: DATA %s", ErrUnsupportedPCD, h.data)
	}
	if h.counts == nil {
		h.counts = make([]int, len(h.fields))
		for i := range h.counts {
			h.counts[i] = 1
		}
	}
	if len(h.counts) != len(h.fields) {
		return nil, fmt.Errorf("%w: %d FIELDS but %d COUNT entries", ErrMalformed, len(h.fields), len(h.counts))
	}
	cx, cy, cz := h.column("x"), h.column("y"), h.column("z")
	if cx < 0 || cy < 0 || cz < 0 {
		return nil, fmt.Errorf("%w: FIELDS must include x y z", ErrMalformed)
	}
	width := 0
	for _, c := range h.counts {
		width += c
	}

	var pts []r3.Vec
	if h.points > 0 {
		pts = make([]r3.Vec, 0, h.points)
	}
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		cols := strings.Fields(text)
		if len(cols) != width {
			return nil, fmt.Errorf("%w: line %d: want %d columns, got %d", ErrMalformed, line, width, len(cols))
		}
		p, err := parseXYZ(cols[cx], cols[cy], cols[cz])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}
		pts = append(pts, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if h.points >= 0 && len(pts) != h.points {
		return nil, fmt.Errorf("%w: header declares %d points, read %d", ErrMalformed, h.points, len(pts))
	}
	return &SampleSet{pts: pts}, nil
}

// WritePCD writes set as an unorganized ASCII PCD v0.7 cloud.
func WritePCD(w io.Writer, set *SampleSet) error {
	bw := bufio.NewWriter(w)
	n := set.Len()
	fmt.Fprintf(bw, "# .PCD v0.7 - Point Cloud Data file format\n")
	fmt.Fprintf(bw, "VERSION 0.7\n")
	fmt.Fprintf(bw, "FIELDS x y z\n")
	fmt.Fprintf(bw, "SIZE 8 8 8\n")
	fmt.Fprintf(bw, "TYPE F F F\n")
	fmt.Fprintf(bw, "COUNT 1 1 1\n")
	fmt.Fprintf(bw, "WIDTH %d\n", n)
	fmt.Fprintf(bw, "HEIGHT 1\n")
	fmt.Fprintf(bw, "VIEWPOINT 0 0 0 1 0 0 0\n")
	fmt.Fprintf(bw, "POINTS %d\n", n)
	fmt.Fprintf(bw, "DATA ascii\n")
	for i := 0; i < n; i++ {
		p := set.At(i)
		fmt.Fprintf(bw, "%s %s %s\n", formatCoord(p.X), formatCoord(p.Y), formatCoord(p.Z))
	}
	return bw.Flush()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseXYZ(xs, ys, zs string) (r3.Vec, error) {
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return r3.Vec{}, err
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return r3.Vec{}, err
	}
	z, err := strconv.ParseFloat(zs, 64)
	if err != nil {
		return r3.Vec{}, err
	}
	return r3.Vec{X: x, Y: y, Z: z}, nil
}
