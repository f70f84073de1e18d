// Command sqsample writes a synthetic point cloud sampled from the
// surface of a superquadric.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/sqfit/internal/cloud"
	"github.com/banshee-data/sqfit/internal/fsutil"
	"github.com/banshee-data/sqfit/internal/superquadric"
	"github.com/banshee-data/sqfit/internal/version"
)

type options struct {
	params  superquadric.Params
	n       int
	noise   float64
	seed    int64
	out     string
	version bool
}

// parseTriple parses "x,y,z".
func parseTriple(name, s string) ([3]float64, error) {
	var v [3]float64
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("-%s wants 3 comma-separated values, got %q", name, s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return v, fmt.Errorf("-%s: %w", name, err)
		}
		v[i] = f
	}
	return v, nil
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var (
		o              options
		a, e, pos, rpy string
	)
	fs := flag.NewFlagSet("sqsample", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&a, "a", "1,1,1", "Scales a1,a2,a3")
	fs.StringVar(&e, "e", "1,1", "Shape exponents e1,e2")
	fs.StringVar(&pos, "pos", "0,0,0", "Centre x,y,z")
	fs.StringVar(&rpy, "rpy", "0,0,0", "Roll,pitch,yaw in radians")
	fs.IntVar(&o.n, "n", 1000, "Number of points")
	fs.Float64Var(&o.noise, "noise", 0, "Gaussian noise standard deviation per coordinate")
	fs.Int64Var(&o.seed, "seed", 1, "Random seed")
	fs.StringVar(&o.out, "out", "", "Output file (.pcd, .asc, .xyz or .txt)")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.version {
		return o, nil
	}
	if o.out == "" {
		return o, errors.New("-out is required")
	}
	if o.n <= 0 {
		return o, fmt.Errorf("-n must be positive, got %d", o.n)
	}
	if o.noise < 0 {
		return o, fmt.Errorf("-noise must be non-negative, got %g", o.noise)
	}

	scales, err := parseTriple("a", a)
	if err != nil {
		return o, err
	}
	center, err := parseTriple("pos", pos)
	if err != nil {
		return o, err
	}
	angles, err := parseTriple("rpy", rpy)
	if err != nil {
		return o, err
	}
	parts := strings.Split(e, ",")
	if len(parts) != 2 {
		return o, fmt.Errorf("-e wants 2 comma-separated values, got %q", e)
	}
	var exps [2]float64
	for i, p := range parts {
		if exps[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
			return o, fmt.Errorf("-e: %w", err)
		}
	}
	for _, v := range []float64{scales[0], scales[1], scales[2], exps[0], exps[1]} {
		if !(v > 0) {
			return o, fmt.Errorf("%w: scales and exponents must be positive", superquadric.ErrInvalidParams)
		}
	}

	o.params = superquadric.Params{
		A1: scales[0], A2: scales[1], A3: scales[2],
		E1: exps[0], E2: exps[1],
		PX: center[0], PY: center[1], PZ: center[2],
		Roll: angles[0], Pitch: angles[1], Yaw: angles[2],
	}
	return o, nil
}

func generate(fsys fsutil.FileSystem, o options) (*cloud.SampleSet, error) {
	rng := rand.New(rand.NewSource(o.seed))
	set := cloud.NewSampleSet(superquadric.Sample(o.params, o.n, o.noise, rng))
	if err := cloud.Save(fsys, o.out, set); err != nil {
		return nil, err
	}
	return set, nil
}

func main() {
	o, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("sqsample: %v", err)
	}
	if o.version {
		fmt.Println(version.String("sqsample"))
		return
	}

	set, err := generate(fsutil.OSFileSystem{}, o)
	if err != nil {
		log.Fatalf("sqsample: %v", err)
	}
	log.Printf("wrote %d points of %s to %s", set.Len(), o.params, o.out)
}
