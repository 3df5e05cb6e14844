package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abihf/backdrop/errdefs"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath   = "/etc/backdrop/config.yaml"
	DefaultCodec  = "MJPG"
	DefaultModel  = 1
	DefaultSocket = "/run/backdrop/backdrop.sock"
	DefaultPid    = "/run/backdrop/backdrop.pid"
)

// Capture backends.
const (
	BackendOpenCV = "opencv"
	BackendV4L2   = "v4l2"
)

// Loopback output formats.
const (
	FormatI420  = "I420"
	FormatRGB24 = "RGB3"
)

type Config struct {
	Background   string        `yaml:"background"`
	FrameRate    int           `yaml:"frame_rate"`
	Physical     string        `yaml:"physical"`
	Virtual      string        `yaml:"virtual"`
	Codec        string        `yaml:"codec"`
	Model        int           `yaml:"model"`
	ModelDir     string        `yaml:"model_dir"`
	Threshold    float64       `yaml:"threshold"`
	Silent       bool          `yaml:"silent"`
	Backend      string        `yaml:"backend"`
	OutputFormat string        `yaml:"output_format"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	CPU          int           `yaml:"cpu"`
	Socket       string        `yaml:"socket"`
	PidFile      string        `yaml:"pid_file"`
	LogLevel     string        `yaml:"log_level"`

	// MissingFile is the config file path that was looked up but not found.
	MissingFile string `yaml:"-"`
}

func Default() *Config {
	return &Config{
		Codec:        DefaultCodec,
		Model:        DefaultModel,
		ModelDir:     "/usr/share/backdrop/models",
		Threshold:    80.0,
		Backend:      BackendOpenCV,
		OutputFormat: FormatI420,
		RetryDelay:   10 * time.Millisecond,
		CPU:          -1,
		Socket:       DefaultSocket,
		PidFile:      DefaultPid,
		LogLevel:     "info",
	}
}

// Load builds the configuration from defaults, the YAML file, BACKDROP_*
// environment variables and the command line, in that order.
func Load(args []string, stderr io.Writer) (*Config, error) {
	cfg := Default()

	cli := *cfg
	fs := flag.NewFlagSet("backdrop", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: backdrop [flags] <background> <frame-rate>\n\n")
		fmt.Fprintf(stderr, "Create a virtual camera by overlaying the foreground of a real camera onto a static background image.\n\n")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", DefaultPath, "configuration file (BACKDROP_CONFIG when unset)")
	envFile := fs.String("env-file", "", "file with BACKDROP_* variables")
	fs.StringVar(&cli.Physical, "physical", "", "physical camera path or index")
	fs.StringVar(&cli.Virtual, "virtual", "", "virtual camera path")
	fs.StringVar(&cli.Codec, "codec", cli.Codec, "physical camera fourcc codec")
	fs.IntVar(&cli.Model, "model", cli.Model, "segmentation model kind (0 general, 1 landscape)")
	fs.StringVar(&cli.ModelDir, "model-dir", cli.ModelDir, "directory holding the segmentation models")
	fs.Float64Var(&cli.Threshold, "threshold", cli.Threshold, "percentage confidence threshold")
	fs.BoolVar(&cli.Silent, "silent", false, "disable output")
	fs.StringVar(&cli.Backend, "backend", cli.Backend, "capture backend (opencv or v4l2)")
	fs.StringVar(&cli.OutputFormat, "format", cli.OutputFormat, "virtual camera pixel format (I420 or RGB3)")
	fs.DurationVar(&cli.RetryDelay, "retry-delay", cli.RetryDelay, "pause after a failed frame read")
	fs.IntVar(&cli.CPU, "cpu", cli.CPU, "pin the pipeline to this core (-1 disables)")
	fs.StringVar(&cli.Socket, "socket", cli.Socket, "status socket path")
	fs.StringVar(&cli.PidFile, "pid-file", cli.PidFile, "pid file path")
	fs.StringVar(&cli.LogLevel, "log-level", cli.LogLevel, "log level")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return nil, err
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return nil, errors.Wrapf(err, "Can not load env file %s", *envFile)
		}
	}

	path := *configPath
	if v := os.Getenv("BACKDROP_CONFIG"); v != "" && !explicit["config"] {
		path = v
	}
	if err := cfg.loadFile(path, explicit["config"]); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.applyFlags(&cli, explicit)

	rest := positional
	if len(rest) > 0 {
		cfg.Background = rest[0]
	}
	if len(rest) > 1 {
		rate, err := strconv.Atoi(rest[1])
		if err != nil {
			return nil, &errdefs.ValidationError{Field: "frame rate", Value: rest[1], Reason: "not an integer"}
		}
		cfg.FrameRate = rate
	}
	if len(rest) > 2 {
		return nil, errors.Errorf("unexpected arguments: %s", strings.Join(rest[2:], " "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseInterspersed parses flags appearing before, between or after the
// positional arguments and returns the positionals in order. Everything
// after "--" is positional.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		if len(args) > len(rest) && args[len(args)-len(rest)-1] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			c.MissingFile = path
			return nil
		}
		return errors.Wrap(err, "Can not read config file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "Can not parse config file %s", path)
	}
	return nil
}

// ApplyEnv overrides fields from BACKDROP_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("BACKDROP_BACKGROUND", &c.Background)
	str("BACKDROP_PHYSICAL", &c.Physical)
	str("BACKDROP_VIRTUAL", &c.Virtual)
	str("BACKDROP_CODEC", &c.Codec)
	str("BACKDROP_MODEL_DIR", &c.ModelDir)
	str("BACKDROP_BACKEND", &c.Backend)
	str("BACKDROP_OUTPUT_FORMAT", &c.OutputFormat)
	str("BACKDROP_SOCKET", &c.Socket)
	str("BACKDROP_PID_FILE", &c.PidFile)
	str("BACKDROP_LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("BACKDROP_FRAME_RATE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &errdefs.ValidationError{Field: "frame rate", Value: v, Reason: "not an integer"}
		}
		c.FrameRate = n
	}
	if v, ok := lookup("BACKDROP_MODEL"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &errdefs.ValidationError{Field: "model", Value: v, Reason: "not an integer"}
		}
		c.Model = n
	}
	if v, ok := lookup("BACKDROP_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &errdefs.ValidationError{Field: "threshold", Value: v, Reason: "not a number"}
		}
		c.Threshold = f
	}
	if v, ok := lookup("BACKDROP_SILENT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &errdefs.ValidationError{Field: "silent", Value: v, Reason: "not a boolean"}
		}
		c.Silent = b
	}
	return nil
}

func (c *Config) applyFlags(cli *Config, explicit map[string]bool) {
	if explicit["physical"] {
		c.Physical = cli.Physical
	}
	if explicit["virtual"] {
		c.Virtual = cli.Virtual
	}
	if explicit["codec"] {
		c.Codec = cli.Codec
	}
	if explicit["model"] {
		c.Model = cli.Model
	}
	if explicit["model-dir"] {
		c.ModelDir = cli.ModelDir
	}
	if explicit["threshold"] {
		c.Threshold = cli.Threshold
	}
	if explicit["silent"] {
		c.Silent = cli.Silent
	}
	if explicit["backend"] {
		c.Backend = cli.Backend
	}
	if explicit["format"] {
		c.OutputFormat = cli.OutputFormat
	}
	if explicit["retry-delay"] {
		c.RetryDelay = cli.RetryDelay
	}
	if explicit["cpu"] {
		c.CPU = cli.CPU
	}
	if explicit["socket"] {
		c.Socket = cli.Socket
	}
	if explicit["pid-file"] {
		c.PidFile = cli.PidFile
	}
	if explicit["log-level"] {
		c.LogLevel = cli.LogLevel
	}
}

// Validate checks every value that can be checked without touching a device.
func (c *Config) Validate() error {
	if c.Background == "" {
		return &errdefs.ValidationError{Field: "background", Value: `""`, Reason: "path is required"}
	}
	if c.FrameRate <= 0 {
		return &errdefs.ValidationError{Field: "frame rate", Value: c.FrameRate, Reason: "must be a positive integer"}
	}
	if err := ValidateCodec(c.Codec); err != nil {
		return err
	}
	if err := ValidateThreshold(c.Threshold); err != nil {
		return err
	}
	if c.Model != 0 && c.Model != 1 {
		return &errdefs.ValidationError{Field: "model", Value: c.Model, Reason: "must be 0 or 1"}
	}
	switch c.Backend {
	case BackendOpenCV, BackendV4L2:
	default:
		return &errdefs.ValidationError{Field: "backend", Value: c.Backend, Reason: "must be opencv or v4l2"}
	}
	switch c.OutputFormat {
	case FormatI420, FormatRGB24:
	default:
		return &errdefs.ValidationError{Field: "format", Value: c.OutputFormat, Reason: "must be I420 or RGB3"}
	}
	if c.RetryDelay < 0 {
		return &errdefs.ValidationError{Field: "retry delay", Value: c.RetryDelay, Reason: "must not be negative"}
	}
	return nil
}

// ValidateCodec rejects anything that is not a four character code.
func ValidateCodec(codec string) error {
	if len(codec) != 4 {
		return &errdefs.ValidationError{Field: "codec", Value: codec, Reason: "codec is not a four character code"}
	}
	return nil
}

// ValidateThreshold requires a percentage in [0, 100).
func ValidateThreshold(threshold float64) error {
	if !(threshold >= 0 && threshold < 100) {
		return &errdefs.ValidationError{Field: "threshold", Value: threshold, Reason: "threshold is not between 0 and 100"}
	}
	return nil
}

// Summary is the startup line printed unless silent.
func (c *Config) Summary(width, height int) string {
	return fmt.Sprintf("Camera dimensions %d*%d@%d using codec %s, model choice %d using threshold %g%%",
		width, height, c.FrameRate, c.Codec, c.Model, c.Threshold)
}
