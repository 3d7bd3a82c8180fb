// Package config loads extraction settings from a YAML file and converts
// them to unpak options.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"gopkg.in/yaml.v3"

	"github.com/meigma/unpak"
	"github.com/meigma/unpak/codec"
	"github.com/meigma/unpak/volume"
)

// ErrInvalid is returned for settings that cannot be converted to options.
var ErrInvalid = errors.New("config: invalid setting")

// Config represents an unpak configuration file.
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Container settings
	MaxEntrySize     string `yaml:"max_entry_size"`
	MaxDecoderMemory string `yaml:"max_decoder_memory"`
	MaxDecodeOutput  string `yaml:"max_decode_output"`
	DecoderLowmem    *bool  `yaml:"decoder_lowmem"`
	SizeFallback     *bool  `yaml:"size_fallback"`
	NameEncoding     string `yaml:"name_encoding"`

	// Extraction settings
	Overwrite *bool `yaml:"overwrite"`
	Workers   *int  `yaml:"workers"`
	Debug     *bool `yaml:"debug"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Split containers
	Volumes *Volumes `yaml:"volumes"`
}

// Volumes describes how the parts of a split container are named.
type Volumes struct {
	Scheme string `yaml:"scheme"` // probed or indexed
	Naming string `yaml:"naming"` // trailing_number, token, part_suffix, numbered_extension
	Width  int    `yaml:"width"`
	Token  string `yaml:"token"`
	Count  int    `yaml:"count"`
	Max    int    `yaml:"max"`
}

// Load reads the config file at path. A missing file yields a zero Config.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ContainerOptions converts the container settings to unpak options.
// logger, if non-nil, is attached to the container.
func (c Config) ContainerOptions(logger *slog.Logger) ([]unpak.Option, error) {
	var opts []unpak.Option
	if logger != nil {
		opts = append(opts, unpak.WithLogger(logger))
	}
	if c.MaxEntrySize != "" {
		n, err := parseSize("max_entry_size", c.MaxEntrySize)
		if err != nil {
			return nil, err
		}
		opts = append(opts, unpak.WithMaxEntrySize(n))
	}
	if c.SizeFallback != nil {
		opts = append(opts, unpak.WithSizeFallback(*c.SizeFallback))
	}
	if c.NameEncoding != "" {
		enc, err := Encoding(c.NameEncoding)
		if err != nil {
			return nil, err
		}
		opts = append(opts, unpak.WithNameEncoding(enc))
	}

	var codecOpts []codec.Option
	if c.MaxDecoderMemory != "" {
		n, err := parseSize("max_decoder_memory", c.MaxDecoderMemory)
		if err != nil {
			return nil, err
		}
		codecOpts = append(codecOpts, codec.WithMaxDecoderMemory(n))
	}
	if c.MaxDecodeOutput != "" {
		n, err := parseSize("max_decode_output", c.MaxDecodeOutput)
		if err != nil {
			return nil, err
		}
		codecOpts = append(codecOpts, codec.WithMaxOutput(int64(min(n, 1<<62))))
	}
	if c.DecoderLowmem != nil {
		codecOpts = append(codecOpts, codec.WithDecoderLowmem(*c.DecoderLowmem))
	}
	if len(codecOpts) > 0 {
		opts = append(opts, unpak.WithCodecs(codec.NewRegistry(codecOpts...)))
	}
	return opts, nil
}

// ExtractOptions converts the extraction settings to unpak options.
// Debug output, when enabled, goes to debug.
func (c Config) ExtractOptions(debug io.Writer) []unpak.ExtractOption {
	var opts []unpak.ExtractOption
	if c.Overwrite != nil {
		opts = append(opts, unpak.WithOverwrite(*c.Overwrite))
	}
	if c.Workers != nil {
		opts = append(opts, unpak.WithWorkers(*c.Workers))
	}
	if c.Debug != nil && *c.Debug && debug != nil {
		opts = append(opts, unpak.WithDebugOutput(debug))
	}
	return opts
}

// Logger builds a logger writing to w according to log_level and
// log_format. Defaults are info and text.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if c.LogLevel != "" {
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return nil, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
		}
	}
	hopts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("%w: log_format %q", ErrInvalid, c.LogFormat)
	}
}

// Layout converts the volumes section to a volume layout. The second result
// is false when the section is absent.
func (c Config) Layout() (volume.Layout, bool, error) {
	v := c.Volumes
	if v == nil {
		return volume.Layout{}, false, nil
	}
	l := volume.Layout{Count: v.Count, Max: v.Max}
	switch strings.ToLower(v.Scheme) {
	case "", "probed":
		l.Scheme = volume.Probed
	case "indexed":
		l.Scheme = volume.Indexed
	default:
		return volume.Layout{}, false, fmt.Errorf("%w: volumes.scheme %q", ErrInvalid, v.Scheme)
	}
	switch strings.ToLower(v.Naming) {
	case "", "trailing_number":
		l.Namer = volume.TrailingNumber(v.Width)
	case "token":
		if v.Token == "" {
			return volume.Layout{}, false, fmt.Errorf("%w: volumes.token is required for token naming", ErrInvalid)
		}
		l.Namer = volume.ReplaceToken(v.Token, v.Width)
	case "part_suffix":
		l.Namer = volume.PartSuffix()
	case "numbered_extension":
		l.Namer = volume.NumberedExtension(v.Width)
	default:
		return volume.Layout{}, false, fmt.Errorf("%w: volumes.naming %q", ErrInvalid, v.Naming)
	}
	return l, true, nil
}

var encodings = map[string]encoding.Encoding{
	"cp437":        charmap.CodePage437,
	"ibm437":       charmap.CodePage437,
	"cp850":        charmap.CodePage850,
	"cp866":        charmap.CodePage866,
	"windows-1250": charmap.Windows1250,
	"windows-1251": charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"macintosh":    charmap.Macintosh,
	"shift_jis":    japanese.ShiftJIS,
	"sjis":         japanese.ShiftJIS,
	"euc-jp":       japanese.EUCJP,
	"euc-kr":       korean.EUCKR,
	"gbk":          simplifiedchinese.GBK,
	"big5":         traditionalchinese.Big5,
}

// Encoding returns the character encoding with the given name.
func Encoding(name string) (encoding.Encoding, error) {
	enc, ok := encodings[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown name encoding %q", ErrInvalid, name)
	}
	return enc, nil
}

// parseSize accepts humanized sizes such as "64MiB" or "1 GB".
func parseSize(key, value string) (uint64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %w", ErrInvalid, key, value, err)
	}
	return n, nil
}
