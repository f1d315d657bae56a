// Package config manages mstpd daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete mstpd configuration.
type Config struct {
	API       APIConfig        `koanf:"api"`
	Metrics   MetricsConfig    `koanf:"metrics"`
	Log       LogConfig        `koanf:"log"`
	Bridge    BridgeConfig     `koanf:"bridge"`
	DataPlane DataPlaneConfig  `koanf:"dataplane"`
	Ports     []PortConfig     `koanf:"ports"`
	Instances []InstanceConfig `koanf:"instances"`
}

// APIConfig holds the ConnectRPC server configuration.
type APIConfig struct {
	// Addr is the control API listen address (e.g., ":50052").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9101").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json", "text" or "console".
	Format string `koanf:"format"`
}

// BridgeConfig holds the bridge-wide protocol parameters
// (802.1Q-2011 Section 13.26, Table 13-5). Times are whole seconds.
type BridgeConfig struct {
	// Name is the Linux bridge interface whose ports are controlled
	// (e.g., "br0"). Its MAC address is the bridge address unless MAC is set.
	Name string `koanf:"name"`

	// MAC overrides the bridge address.
	MAC string `koanf:"mac"`

	// ForceVersion is "stp", "rstp" or "mstp".
	ForceVersion string `koanf:"force_version"`

	Priority     uint16 `koanf:"priority"`
	MaxAge       uint16 `koanf:"max_age"`
	HelloTime    uint16 `koanf:"hello_time"`
	ForwardDelay uint16 `koanf:"forward_delay"`
	MaxHops      uint8  `koanf:"max_hops"`
	TxHoldCount  uint16 `koanf:"tx_hold_count"`

	// Region is the MST Configuration Name. Empty selects the bridge MAC
	// address in its text form.
	Region   string `koanf:"region"`
	Revision uint16 `koanf:"revision"`
}

// DataPlaneConfig controls how port states reach the kernel.
type DataPlaneConfig struct {
	// Enabled applies CIST port states to the Linux bridge. When false,
	// states are only logged.
	Enabled bool `koanf:"enabled"`

	// SysfsRoot is the root of the network class directory.
	SysfsRoot string `koanf:"sysfs_root"`

	// LinkMonitor follows interface up/down via netlink.
	LinkMonitor bool `koanf:"link_monitor"`
}

// PortConfig describes one bridge port.
type PortConfig struct {
	// Name is the interface name (e.g., "eth1").
	Name string `koanf:"name"`

	// Number is the 12-bit port number, 1..4095.
	Number uint16 `koanf:"number"`

	// Enabled defaults to true. With the link monitor on, the operational
	// state also follows the interface.
	Enabled *bool `koanf:"enabled"`

	AdminEdge bool `koanf:"admin_edge"`

	// LinkType is "auto", "point_to_point" or "shared".
	LinkType string `koanf:"link_type"`

	// PathCost of zero selects the default cost.
	PathCost uint32 `koanf:"path_cost"`

	// Priority defaults to 128 when unset.
	Priority *uint8 `koanf:"priority"`

	RootGuard bool `koanf:"root_guard"`
}

// IsEnabled reports the administrative state, true when unset.
func (pc PortConfig) IsEnabled() bool {
	return pc.Enabled == nil || *pc.Enabled
}

// InstanceConfig describes one MSTI.
type InstanceConfig struct {
	// MSTID is the instance identifier, 1..4094.
	MSTID uint16 `koanf:"mstid"`

	// VLANs is a list of ids and ranges such as "10-20,30".
	VLANs string `koanf:"vlans"`

	// Priority is the bridge priority in this instance; unset inherits
	// the default.
	Priority *uint16 `koanf:"priority"`

	// Ports overrides per-port cost and priority in this instance.
	Ports []InstancePortConfig `koanf:"ports"`
}

// InstancePortConfig overrides the parameters of a port in one MSTI.
type InstancePortConfig struct {
	Name     string `koanf:"name"`
	PathCost uint32 `koanf:"path_cost"`
	Priority *uint8 `koanf:"priority"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// Bridge defaults follow 802.1Q-2011 Table 13-5.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Addr: ":50052",
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Bridge: BridgeConfig{
			Name:         "br0",
			ForceVersion: "mstp",
			Priority:     mstp.DefaultPriority,
			MaxAge:       mstp.DefaultMaxAge,
			HelloTime:    mstp.DefaultHelloTime,
			ForwardDelay: mstp.DefaultFwdDelay,
			MaxHops:      mstp.DefaultMaxHops,
			TxHoldCount:  mstp.DefaultTxHoldCount,
		},
		DataPlane: DataPlaneConfig{
			Enabled:     true,
			SysfsRoot:   "/sys/class/net",
			LinkMonitor: true,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for mstpd configuration.
// Variables are named MSTPD_<section>_<key>, e.g., MSTPD_API_ADDR.
const envPrefix = "MSTPD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (MSTPD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	MSTPD_API_ADDR         -> api.addr
//	MSTPD_METRICS_ADDR     -> metrics.addr
//	MSTPD_LOG_LEVEL        -> log.level
//	MSTPD_BRIDGE_PRIORITY  -> bridge.priority
//	MSTPD_BRIDGE_MAX__AGE  -> bridge.max_age
//
// A double underscore stands for a literal underscore in the key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms MSTPD_BRIDGE_HELLO__TIME -> bridge.hello_time.
// Strips the prefix, lowercases, maps "__" to "_" and "_" to ".".
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	parts := strings.Split(s, "__")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, "_", ".")
	}
	return strings.Join(parts, "_")
}

// loadDefaults sets the default config in koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"api.addr":               defaults.API.Addr,
		"metrics.addr":           defaults.Metrics.Addr,
		"metrics.path":           defaults.Metrics.Path,
		"log.level":              defaults.Log.Level,
		"log.format":             defaults.Log.Format,
		"bridge.name":            defaults.Bridge.Name,
		"bridge.force_version":   defaults.Bridge.ForceVersion,
		"bridge.priority":        defaults.Bridge.Priority,
		"bridge.max_age":         defaults.Bridge.MaxAge,
		"bridge.hello_time":      defaults.Bridge.HelloTime,
		"bridge.forward_delay":   defaults.Bridge.ForwardDelay,
		"bridge.max_hops":        defaults.Bridge.MaxHops,
		"bridge.tx_hold_count":   defaults.Bridge.TxHoldCount,
		"dataplane.enabled":      defaults.DataPlane.Enabled,
		"dataplane.sysfs_root":   defaults.DataPlane.SysfsRoot,
		"dataplane.link_monitor": defaults.DataPlane.LinkMonitor,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAPIAddr indicates the control API listen address is empty.
	ErrEmptyAPIAddr = errors.New("api.addr must not be empty")

	// ErrInvalidLogFormat indicates a log format other than json, text or console.
	ErrInvalidLogFormat = errors.New("log.format must be json, text or console")

	// ErrInvalidBridgeMAC indicates bridge.mac is not a 48-bit address.
	ErrInvalidBridgeMAC = errors.New("bridge.mac is not a valid MAC address")

	// ErrNoBridgeAddress indicates neither bridge.name nor bridge.mac is set.
	ErrNoBridgeAddress = errors.New("bridge.name or bridge.mac must be set")

	// ErrInvalidForceVersion indicates a protocol version other than stp, rstp or mstp.
	ErrInvalidForceVersion = errors.New("bridge.force_version must be stp, rstp or mstp")

	// ErrInvalidPriority indicates a bridge priority that is not a multiple of 4096 up to 61440.
	ErrInvalidPriority = errors.New("bridge priority must be a multiple of 4096 up to 61440")

	// ErrInvalidTimers indicates timers out of range or violating 2*(fwd-1) >= max_age >= 2*(hello+1).
	ErrInvalidTimers = errors.New("bridge timers out of range")

	// ErrInvalidMaxHops indicates max hops outside 1..40.
	ErrInvalidMaxHops = errors.New("bridge.max_hops must be in 1..40")

	// ErrInvalidTxHoldCount indicates a transmit hold count outside 1..10.
	ErrInvalidTxHoldCount = errors.New("bridge.tx_hold_count must be in 1..10")

	// ErrRegionNameTooLong indicates a region name longer than 32 bytes.
	ErrRegionNameTooLong = errors.New("bridge.region must be at most 32 bytes")

	// ErrEmptyPortName indicates a port without an interface name.
	ErrEmptyPortName = errors.New("port name must not be empty")

	// ErrInvalidPortNumber indicates a port number outside 1..4095.
	ErrInvalidPortNumber = errors.New("port number must be in 1..4095")

	// ErrDuplicatePort indicates two ports with the same name or number.
	ErrDuplicatePort = errors.New("duplicate port")

	// ErrInvalidLinkType indicates a link type other than auto, point_to_point or shared.
	ErrInvalidLinkType = errors.New("port link_type must be auto, point_to_point or shared")

	// ErrInvalidPathCost indicates a path cost above 200000000.
	ErrInvalidPathCost = errors.New("path_cost must be at most 200000000")

	// ErrInvalidPortPriority indicates a port priority that is not a multiple of 16 up to 240.
	ErrInvalidPortPriority = errors.New("port priority must be a multiple of 16 up to 240")

	// ErrInvalidMSTID indicates an instance id outside 1..4094.
	ErrInvalidMSTID = errors.New("instance mstid must be in 1..4094")

	// ErrDuplicateMSTID indicates two instances with the same id.
	ErrDuplicateMSTID = errors.New("duplicate instance mstid")

	// ErrInvalidVLANs indicates an unparsable or empty VLAN list.
	ErrInvalidVLANs = errors.New("instance vlans invalid")

	// ErrVLANOverlap indicates a VLAN mapped to more than one instance.
	ErrVLANOverlap = errors.New("vlan mapped to more than one instance")

	// ErrUnknownInstancePort indicates an instance override for a port not in ports.
	ErrUnknownInstancePort = errors.New("instance port override names an unknown port")

	// ErrTooManyInstances indicates more instances than the bridge supports.
	ErrTooManyInstances = errors.New("more than 64 instances")
)

// ValidLogFormats lists the recognized log.format strings.
var ValidLogFormats = map[string]bool{
	"json":    true,
	"text":    true,
	"console": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return ErrEmptyAPIAddr
	}

	if !ValidLogFormats[cfg.Log.Format] {
		return fmt.Errorf("log.format %q: %w", cfg.Log.Format, ErrInvalidLogFormat)
	}

	if err := validateBridge(cfg.Bridge); err != nil {
		return err
	}

	ports, err := validatePorts(cfg.Ports)
	if err != nil {
		return err
	}

	return validateInstances(cfg.Instances, ports)
}

func validateBridge(b BridgeConfig) error {
	if b.MAC == "" && b.Name == "" {
		return ErrNoBridgeAddress
	}
	if b.MAC != "" {
		if _, err := mstp.ParseMAC(b.MAC); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidBridgeMAC, err)
		}
	}

	if _, err := mstp.ParseForceVersion(b.ForceVersion); err != nil {
		return fmt.Errorf("bridge.force_version %q: %w", b.ForceVersion, ErrInvalidForceVersion)
	}

	if err := validatePriority(b.Priority); err != nil {
		return fmt.Errorf("bridge.priority: %w", err)
	}

	switch {
	case b.HelloTime < 1 || b.HelloTime > 10,
		b.MaxAge < 6 || b.MaxAge > 40,
		b.ForwardDelay < 4 || b.ForwardDelay > 30,
		2*(b.ForwardDelay-1) < b.MaxAge,
		b.MaxAge < 2*(b.HelloTime+1):
		return fmt.Errorf("hello %d max_age %d forward_delay %d: %w",
			b.HelloTime, b.MaxAge, b.ForwardDelay, ErrInvalidTimers)
	}

	if b.MaxHops < 1 || b.MaxHops > 40 {
		return fmt.Errorf("bridge.max_hops %d: %w", b.MaxHops, ErrInvalidMaxHops)
	}

	if b.TxHoldCount < 1 || b.TxHoldCount > 10 {
		return fmt.Errorf("bridge.tx_hold_count %d: %w", b.TxHoldCount, ErrInvalidTxHoldCount)
	}

	if len(b.Region) > mstp.ConfigNameSize {
		return ErrRegionNameTooLong
	}

	return nil
}

func validatePriority(p uint16) error {
	if p > mstp.MaxPriority || p%mstp.PriorityStep != 0 {
		return fmt.Errorf("%d: %w", p, ErrInvalidPriority)
	}
	return nil
}

func validatePortPriority(p *uint8) error {
	if p == nil {
		return nil
	}
	if *p > mstp.MaxPortPriority || *p%mstp.PortPriorityStep != 0 {
		return fmt.Errorf("%d: %w", *p, ErrInvalidPortPriority)
	}
	return nil
}

func validatePathCost(c uint32) error {
	if c > mstp.MaxPathCost {
		return fmt.Errorf("%d: %w", c, ErrInvalidPathCost)
	}
	return nil
}

// validatePorts checks each port entry and returns the set of port names.
func validatePorts(ports []PortConfig) (map[string]struct{}, error) {
	names := make(map[string]struct{}, len(ports))
	numbers := make(map[uint16]struct{}, len(ports))

	for i, pc := range ports {
		if pc.Name == "" {
			return nil, fmt.Errorf("ports[%d]: %w", i, ErrEmptyPortName)
		}
		if pc.Number < 1 || pc.Number > uint16(mstp.MaxPortNum) {
			return nil, fmt.Errorf("ports[%d] number %d: %w", i, pc.Number, ErrInvalidPortNumber)
		}
		if _, dup := names[pc.Name]; dup {
			return nil, fmt.Errorf("ports[%d] name %q: %w", i, pc.Name, ErrDuplicatePort)
		}
		if _, dup := numbers[pc.Number]; dup {
			return nil, fmt.Errorf("ports[%d] number %d: %w", i, pc.Number, ErrDuplicatePort)
		}
		if _, err := mstp.ParseLinkType(pc.LinkType); err != nil {
			return nil, fmt.Errorf("ports[%d] link_type %q: %w", i, pc.LinkType, ErrInvalidLinkType)
		}
		if err := validatePathCost(pc.PathCost); err != nil {
			return nil, fmt.Errorf("ports[%d] path_cost: %w", i, err)
		}
		if err := validatePortPriority(pc.Priority); err != nil {
			return nil, fmt.Errorf("ports[%d] priority: %w", i, err)
		}
		names[pc.Name] = struct{}{}
		numbers[pc.Number] = struct{}{}
	}

	return names, nil
}

// validateInstances checks each instance entry, VLAN exclusivity across
// instances and per-port overrides against the declared ports.
func validateInstances(instances []InstanceConfig, ports map[string]struct{}) error {
	if len(instances) > mstp.MaxInstances {
		return fmt.Errorf("%d instances: %w", len(instances), ErrTooManyInstances)
	}

	seen := make(map[uint16]struct{}, len(instances))
	owner := make(map[uint16]uint16)

	for i, ic := range instances {
		if !mstp.MSTID(ic.MSTID).Valid() {
			return fmt.Errorf("instances[%d] mstid %d: %w", i, ic.MSTID, ErrInvalidMSTID)
		}
		if _, dup := seen[ic.MSTID]; dup {
			return fmt.Errorf("instances[%d] mstid %d: %w", i, ic.MSTID, ErrDuplicateMSTID)
		}
		seen[ic.MSTID] = struct{}{}

		vlans, err := ic.VLANSet()
		if err != nil {
			return fmt.Errorf("instances[%d]: %w", i, err)
		}
		var overlap error
		vlans.Each(func(vid uint16) {
			if other, ok := owner[vid]; ok && overlap == nil {
				overlap = fmt.Errorf("vlan %d in instances %d and %d: %w", vid, other, ic.MSTID, ErrVLANOverlap)
			}
			owner[vid] = ic.MSTID
		})
		if overlap != nil {
			return overlap
		}

		if ic.Priority != nil {
			if err := validatePriority(*ic.Priority); err != nil {
				return fmt.Errorf("instances[%d] priority: %w", i, err)
			}
		}

		for j, ip := range ic.Ports {
			if _, ok := ports[ip.Name]; !ok {
				return fmt.Errorf("instances[%d].ports[%d] %q: %w", i, j, ip.Name, ErrUnknownInstancePort)
			}
			if err := validatePathCost(ip.PathCost); err != nil {
				return fmt.Errorf("instances[%d].ports[%d] path_cost: %w", i, j, err)
			}
			if err := validatePortPriority(ip.Priority); err != nil {
				return fmt.Errorf("instances[%d].ports[%d] priority: %w", i, j, err)
			}
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Conversion to protocol parameters
// -------------------------------------------------------------------------

// Protocol returns the protocol parameters for a bridge with address addr.
// The configuration must have passed Validate.
func (b BridgeConfig) Protocol(addr mstp.MAC) (mstp.BridgeConfig, error) {
	fv, err := mstp.ParseForceVersion(b.ForceVersion)
	if err != nil {
		return mstp.BridgeConfig{}, fmt.Errorf("bridge.force_version: %w", err)
	}
	c := mstp.DefaultBridgeConfig(addr)
	c.ForceVersion = fv
	c.Priority = b.Priority
	c.MaxAge = b.MaxAge
	c.HelloTime = b.HelloTime
	c.FwdDelay = b.ForwardDelay
	c.MaxHops = b.MaxHops
	c.TxHoldCount = b.TxHoldCount
	if b.Region != "" {
		c.RegionName = b.Region
	}
	c.Revision = b.Revision
	return c, nil
}

// Address returns the bridge.mac override, or false when unset.
func (b BridgeConfig) Address() (mstp.MAC, bool) {
	if b.MAC == "" {
		return mstp.MAC{}, false
	}
	m, err := mstp.ParseMAC(b.MAC)
	if err != nil {
		return mstp.MAC{}, false
	}
	return m, true
}

// Protocol returns the protocol parameters of the port.
func (pc PortConfig) Protocol() mstp.PortConfig {
	c := mstp.DefaultPortConfig(pc.Name)
	c.Enabled = pc.IsEnabled()
	c.AdminEdge = pc.AdminEdge
	c.LinkType, _ = mstp.ParseLinkType(pc.LinkType)
	if pc.PathCost != 0 {
		c.PathCost = pc.PathCost
	}
	if pc.Priority != nil {
		c.Priority = *pc.Priority
	}
	c.RootGuard = pc.RootGuard
	return c
}

// VLANSet parses the VLAN list of the instance. An empty list is an error.
func (ic InstanceConfig) VLANSet() (mstp.VLANSet, error) {
	s, err := mstp.ParseVLANSet(ic.VLANs)
	if err != nil {
		return mstp.VLANSet{}, fmt.Errorf("%w: %w", ErrInvalidVLANs, err)
	}
	if s.IsEmpty() {
		return mstp.VLANSet{}, fmt.Errorf("instance %d has no vlans: %w", ic.MSTID, ErrInvalidVLANs)
	}
	return s, nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
