// Package config holds the CLI configuration: defaults, an optional TOML
// file and command-line flags, applied in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/1ureka/blobrepl/internal/protocol"
	"github.com/1ureka/blobrepl/internal/replication"
)

// Role represents which side of the connection this process takes.
type Role string

const (
	RoleHost   Role = "host"   // listens and serves every peer that connects
	RoleClient Role = "client" // connects to one host and runs one session
)

const (
	BackendFS      = "fs"
	BackendLevelDB = "leveldb"

	TransportTCP    = "tcp"
	TransportWS     = "ws"
	TransportWebRTC = "webrtc"
)

// Config stores every parameter of one blobrepl process.
type Config struct {
	Dir     string `toml:"dir"`     // store location
	Backend string `toml:"backend"` // fs or leveldb

	Mode   replication.Mode `toml:"mode"`
	Filter string           `toml:"filter"` // glob over entry names; empty accepts all
	Strict bool             `toml:"strict"` // abort sessions on protocol anomalies

	Transport  string   `toml:"transport"` // tcp, ws or webrtc
	Listen     string   `toml:"listen"`    // host: address to listen on
	Connect    string   `toml:"connect"`   // client: address or URL to connect to
	PIN        string   `toml:"pin"`       // webrtc host: signaling PIN, random when empty
	ICEServers []string `toml:"ice_servers"`

	// MaxFrameSize bounds every frame, so it caps the size of a single blob.
	// Both peers must agree on it.
	MaxFrameSize uint32 `toml:"max_frame_size"`

	Metrics       string        `toml:"metrics"`        // address of the /metrics endpoint; empty disables it
	StatsInterval time.Duration `toml:"stats_interval"` // 0 disables the periodic stats line
	LogLevel      string        `toml:"log_level"`
	LogJSON       bool          `toml:"log_json"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Dir:           "blobs",
		Backend:       BackendFS,
		Mode:          replication.ModeSync,
		Transport:     TransportTCP,
		MaxFrameSize:  protocol.DefaultMaxFrameSize,
		StatsInterval: 5 * time.Second,
		LogLevel:      "info",
	}
}

// Load reads a TOML file on top of Default. Unknown keys are rejected.
func Load(file string) (Config, error) {
	cfg := Default()
	if err := cfg.loadFile(file); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(file string) error {
	meta, err := toml.DecodeFile(file, c)
	if err != nil {
		return fmt.Errorf("load config %s: %w", file, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("load config %s: unknown keys: %s", file, strings.Join(keys, ", "))
	}
	return nil
}

// FromArgs builds the configuration for a command line. A -config file is
// applied first, so flags given explicitly override its values.
func FromArgs(name string, args []string, output io.Writer) (Config, error) {
	cfg := Default()

	// First pass only locates the config file.
	pre := flag.NewFlagSet(name, flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	var file string
	pre.StringVar(&file, "config", "", "")
	cfg.bind(pre)
	if err := pre.Parse(args); err != nil {
		// Reported with usage by the second pass.
		file = ""
	}

	if file != "" {
		if err := cfg.loadFile(file); err != nil {
			return Config{}, err
		}
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.String("config", file, "TOML configuration file; flags override its values")
	cfg.bind(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	return cfg, cfg.Validate()
}

// bind registers a flag for every field, defaulting to its current value.
func (c *Config) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Dir, "dir", c.Dir, "store directory")
	fs.StringVar(&c.Backend, "backend", c.Backend, "store backend: fs or leveldb")
	fs.TextVar(&c.Mode, "mode", c.Mode, "replication mode: sync, push, pull or null")
	fs.StringVar(&c.Filter, "filter", c.Filter, "only replicate entries whose name matches this glob")
	fs.BoolVar(&c.Strict, "strict", c.Strict, "abort a session on any protocol anomaly")
	fs.StringVar(&c.Transport, "transport", c.Transport, "transport: tcp, ws or webrtc")
	fs.StringVar(&c.Listen, "listen", c.Listen, "listen address (host role)")
	fs.StringVar(&c.Connect, "connect", c.Connect, "address or URL to connect to (client role)")
	fs.StringVar(&c.PIN, "pin", c.PIN, "webrtc signaling PIN (host: random when empty)")
	fs.Func("ice", "comma-separated ICE server URLs for webrtc", func(v string) error {
		c.ICEServers = splitList(v)
		return nil
	})
	fs.Func("max-frame", fmt.Sprintf("largest frame (and blob) in bytes (default %d)", c.MaxFrameSize), func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		c.MaxFrameSize = uint32(n)
		return nil
	})
	fs.StringVar(&c.Metrics, "metrics", c.Metrics, "serve Prometheus metrics on this address")
	fs.DurationVar(&c.StatsInterval, "stats", c.StatsInterval, "interval of the traffic stats line (0 disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: trace, debug, info, warn, error or off")
	fs.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "log one JSON object per line")
	fs.BoolFunc("debug", "shorthand for -log-level debug", func(string) error {
		c.LogLevel = "debug"
		return nil
	})
}

// Role reports whether the process listens or connects.
func (c Config) Role() Role {
	if c.Listen != "" {
		return RoleHost
	}
	return RoleClient
}

// FilterFunc compiles Filter into a session filter. It returns nil when
// every entry is accepted.
func (c Config) FilterFunc() func(string) bool {
	if c.Filter == "" {
		return nil
	}
	pattern := c.Filter
	return func(name string) bool {
		ok, _ := path.Match(pattern, name)
		return ok
	}
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error

	if c.Dir == "" {
		errs = append(errs, errors.New("dir must not be empty"))
	}
	switch c.Backend {
	case BackendFS, BackendLevelDB:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want fs or leveldb)", c.Backend))
	}
	if c.Filter != "" {
		if _, err := path.Match(c.Filter, ""); err != nil {
			errs = append(errs, fmt.Errorf("invalid filter %q: %w", c.Filter, err))
		}
	}
	switch c.Transport {
	case TransportTCP, TransportWS, TransportWebRTC:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (want tcp, ws or webrtc)", c.Transport))
	}
	switch {
	case c.Listen == "" && c.Connect == "":
		errs = append(errs, errors.New("one of listen or connect is required"))
	case c.Listen != "" && c.Connect != "":
		errs = append(errs, errors.New("listen and connect are mutually exclusive"))
	}
	if c.MaxFrameSize == 0 {
		errs = append(errs, errors.New("max frame size must be positive"))
	}
	if c.StatsInterval < 0 {
		errs = append(errs, errors.New("stats interval must not be negative"))
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
