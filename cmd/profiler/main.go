package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/unpak"
	"github.com/meigma/unpak/config"
	"github.com/meigma/unpak/window"
)

type settings struct {
	mode        string
	entries     int
	entrySize   int
	dirCount    int
	compression string
	pattern     string
	source      string
	configFile  string
	workers     int
	duration    time.Duration
	iterations  int
	pprofAddr   string
	cpuProfile  string
	memProfile  string
	traceFile   string
	tempDir     string
	keepTemp    bool
	randomSeed  int64
}

//nolint:unused // sink variable prevents compiler optimizations in profiling
var sinkBytes []byte

// model is a flat entry table built in memory.
type model struct {
	entries []unpak.Entry
}

func (m *model) Entries() []unpak.Entry { return m.entries }

func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	c, err := buildContainer(cfg, dir)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
	}
	defer c.Close()

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(cfg, c, dir)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s ops=%d bytes=%s elapsed=%s throughput=%s/s\n",
		cfg.mode,
		stats.ops,
		humanize.IBytes(uint64(stats.bytes)), //nolint:gosec // byte counts are non-negative
		stats.elapsed,
		humanize.IBytes(uint64(float64(stats.bytes)/stats.elapsed.Seconds())),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

//nolint:gocritic // hugeParam acceptable for settings struct in profiler
func runProfile(cfg settings, c *unpak.Container[*model], rootDir string) (profileStats, error) {
	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
	n := c.NumEntries()

	switch cfg.mode {
	case "read":
		for shouldContinue() {
			data, err := c.ReadEntry(rng.Intn(n))
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = data
			byteCount += int64(len(data))
			ops++
		}

	case "raw":
		for shouldContinue() {
			data, err := c.RawBytes(rng.Intn(n))
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = data
			byteCount += int64(len(data))
			ops++
		}

	case "extract":
		opts, err := extractOptions(cfg)
		if err != nil {
			return profileStats{}, err
		}
		for shouldContinue() {
			dest := filepath.Join(rootDir, "out", fmt.Sprintf("iter-%d", ops))
			report, err := c.ExtractContext(context.Background(), dest, opts...)
			if err != nil {
				return profileStats{}, err
			}
			if err := os.RemoveAll(dest); err != nil {
				return profileStats{}, err
			}
			byteCount += report.Bytes
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func parseFlags() settings {
	var cfg settings
	flag.StringVar(&cfg.mode, "mode", "extract", "mode: extract, read, raw")
	flag.IntVar(&cfg.entries, "entries", 512, "number of entries")
	flag.IntVar(&cfg.entrySize, "entry-size", 16<<10, "entry size in bytes")
	flag.IntVar(&cfg.dirCount, "dir-count", 16, "number of directories")
	flag.StringVar(&cfg.compression, "compression", "deflate", "compression: none, deflate, zstd")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.StringVar(&cfg.source, "source", "memory", "container source: memory or file")
	flag.StringVar(&cfg.configFile, "config", "", "unpak YAML config file")
	flag.IntVar(&cfg.workers, "workers", 0, "extraction workers; 0 keeps the config value")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory to use for dataset")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep temp dir after run")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	return cfg
}

//nolint:gocritic // hugeParam acceptable for settings struct in profiler
func setupTempDir(cfg settings) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "unpak-profiler-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

// buildContainer packs generated entries back to back and opens them from
// memory or from a file in dir.
//
//nolint:gocritic // hugeParam acceptable for settings struct in profiler
func buildContainer(cfg settings, dir string) (*unpak.Container[*model], error) {
	if cfg.dirCount <= 0 {
		cfg.dirCount = 1
	}
	method, err := parseCompression(cfg.compression)
	if err != nil {
		return nil, err
	}
	containerOpts, err := loadConfig(cfg)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks
	var data bytes.Buffer
	m := &model{entries: make([]unpak.Entry, 0, cfg.entries)}
	for i := range cfg.entries {
		content := make([]byte, cfg.entrySize)
		if cfg.pattern == "random" {
			if _, err := rng.Read(content); err != nil {
				return nil, err
			}
		} else {
			fill := byte('a' + (i % 26))
			for j := range content {
				content[j] = fill
			}
			if len(content) > 0 {
				content[0] = byte(i)
			}
		}

		packed, err := compress(method, content)
		if err != nil {
			return nil, err
		}
		m.entries = append(m.entries, unpak.Entry{
			Name:             fmt.Sprintf("dir%02d/file%05d.dat", i%cfg.dirCount, i),
			Location:         unpak.DirectRange(int64(data.Len()), int64(len(packed))),
			UncompressedSize: int64(len(content)),
			Compression:      method,
		})
		data.Write(packed)
	}

	produce := func(*window.Source) (*model, error) { return m, nil }
	switch cfg.source {
	case "memory":
		return unpak.FromBytes(data.Bytes(), produce, containerOpts...)
	case "file":
		path := filepath.Join(dir, "profile.pak")
		if err := os.WriteFile(path, data.Bytes(), 0o600); err != nil {
			return nil, err
		}
		return unpak.OpenFile(path, produce, containerOpts...)
	default:
		return nil, fmt.Errorf("unknown source: %s", cfg.source)
	}
}

//nolint:gocritic // hugeParam acceptable for settings struct in profiler
func loadConfig(cfg settings) ([]unpak.Option, error) {
	if cfg.configFile == "" {
		return nil, nil
	}
	file, err := config.Load(cfg.configFile)
	if err != nil {
		return nil, err
	}
	logger, err := file.Logger(os.Stderr)
	if err != nil {
		return nil, err
	}
	return file.ContainerOptions(logger)
}

//nolint:gocritic // hugeParam acceptable for settings struct in profiler
func extractOptions(cfg settings) ([]unpak.ExtractOption, error) {
	var opts []unpak.ExtractOption
	if cfg.configFile != "" {
		file, err := config.Load(cfg.configFile)
		if err != nil {
			return nil, err
		}
		opts = file.ExtractOptions(os.Stderr)
	}
	if cfg.workers != 0 {
		opts = append(opts, unpak.WithWorkers(cfg.workers))
	}
	return opts, nil
}

func parseCompression(name string) (unpak.Compression, error) {
	switch name {
	case "none":
		return unpak.CompressionNone, nil
	case "deflate":
		return unpak.CompressionDeflate, nil
	case "zstd":
		return unpak.CompressionZstd, nil
	default:
		return unpak.CompressionNone, fmt.Errorf("unknown compression: %s", name)
	}
}

func compress(method unpak.Compression, data []byte) ([]byte, error) {
	switch method {
	case unpak.CompressionDeflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case unpak.CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}
