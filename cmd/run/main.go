// Command run canonicalizes random states at varying bond dimension limits
// and reports the norm and truncation weight lost at each limit.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/gharib85/HamiltonianPy/mps"
	"github.com/gharib85/HamiltonianPy/sweeplog"
)

var (
	runDir = flag.String("d", filepath.Join("runs", "canon"), "run directory")
)

type Config struct {
	l    int
	nmax int
	tol  float64
}

func newConfigs() []Config {
	configs := make([]Config, 0)
	for _, l := range []int{4, 6, 8} {
		for _, nmax := range []int{2, 4, 8} {
			configs = append(configs, Config{l: l, nmax: nmax, tol: 1e-12})
		}
	}
	return configs
}

type Statistics struct {
	cfg       Config
	norm      float64
	canonical int
	discarded float64
}

func solve(dir string, cfg Config, rnd *rand.Rand) (Statistics, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}

	// Random normalized state on a chain of spin halves.
	dims := make([]int, cfg.l)
	numel := 1
	for i := range dims {
		dims[i] = 2
		numel *= 2
	}
	state := make([]float64, numel)
	var norm2 float64
	for i := range state {
		state[i] = rnd.Float64()*2 - 1
		norm2 += state[i] * state[i]
	}
	for i := range state {
		state[i] /= math.Sqrt(norm2)
	}

	m, err := mps.FromVector(state, dims)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}

	logger, err := sweeplog.Open(filepath.Join(dir, "trunc.db"))
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}
	defer logger.Close()

	opt := mps.NewOptions().NMax(cfg.nmax).Tol(cfg.tol).Report(logger)
	if err := m.Canonicalize(cfg.l/2, opt); err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}

	stats := Statistics{cfg: cfg}
	if stats.norm, err = m.Norm(); err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}
	oks, err := m.IsCanonical(1e-12)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}
	for _, ok := range oks {
		if ok {
			stats.canonical++
		}
	}
	events, err := logger.Events()
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}
	for _, e := range events {
		stats.discarded += e.Discarded
	}

	return stats, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	rnd := rand.New(rand.NewPCG(25, 27))
	configs := newConfigs()
	statistics := make([]Statistics, 0, len(configs))
	for _, cfg := range configs {
		dir := filepath.Join(*runDir, fmt.Sprintf("%dx%d", cfg.l, cfg.nmax))
		stat, err := solve(dir, cfg, rnd)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("%#v", cfg))
		}
		statistics = append(statistics, stat)
		log.Printf("%#v", stat)
	}

	fmt.Printf("l,nmax,norm,canonical,discarded\n")
	for _, s := range statistics {
		fmt.Printf("%d,%d,%f,%d,%f\n", s.cfg.l, s.cfg.nmax, s.norm, s.canonical, s.discarded)
	}
	return nil
}
