// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/go-socks/socks"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/domain/mempool"
	"github.com/selfnet/selfd/domain/params"
	"github.com/selfnet/selfd/infrastructure/logger"
)

const (
	defaultConfigFilename  = "selfd.conf"
	defaultDataDirname     = "data"
	defaultLogLevel        = "info"
	defaultLogDirname      = "logs"
	defaultListenPort      = "9001"
	defaultChainID         = 1
	defaultMaxInboundPeers = 64

	// DefaultLogFilename is the name of the main log file inside LogDir.
	DefaultLogFilename = "selfd.log"
	// DefaultErrLogFilename is the name of the warnings log file inside LogDir.
	DefaultErrLogFilename = "selfd_err.log"
	// DefaultConnectTimeout is the default connection timeout when dialing
	DefaultConnectTimeout = 30 * time.Second

	defaultMempoolMaxSize    = 10_000
	defaultMempoolMaxSelect  = 1_000
	defaultMempoolMaxRetries = 3

	defaultSyncBatchMax     = 250
	defaultSyncDedupWindow  = 10 * time.Second
	defaultBandwidthLimit   = 4096  // KiB/s
	defaultBandwidthBurst   = 16384 // KiB
	defaultSyncPollInterval = 500 * time.Millisecond
	defaultSyncPollAttempts = 120
)

var (
	// DefaultAppDir is the default home directory for selfd.
	DefaultAppDir = btcutil.AppDataDir("selfd", false)

	defaultConfigFile = filepath.Join(DefaultAppDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(DefaultAppDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(DefaultAppDir, defaultLogDirname)
)

// Flags defines the configuration options for selfd.
//
// See loadConfig for details on the configuration load process.
type Flags struct {
	ConfigFile      string   `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDir          string   `short:"b" long:"appdir" description:"Directory to store data and logs"`
	DataDir         string   `long:"datadir" description:"Directory to store data"`
	LogDir          string   `long:"logdir" description:"Directory to log output."`
	DebugLevel      string   `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Listeners       []string `long:"listen" description:"Add an interface/port to listen for connections (default all interfaces port: 9001)"`
	ConnectPeers    []string `long:"connect" description:"Connect to the specified peers at startup"`
	DisableListen   bool     `long:"nolisten" description:"Disable listening for incoming connections"`
	Proxy           string   `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser       string   `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass       string   `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	MaxInboundPeers int      `long:"maxinpeers" description:"Max number of inbound peers"`
	MetricsListen   string   `long:"metricslisten" description:"Serve prometheus metrics on this interface/port (eg. 127.0.0.1:9101)"`
	Profile         string   `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`

	ChainID  uint32 `long:"chainid" description:"Chain identifier every unit must carry"`
	Genesis  bool   `long:"genesis" description:"Create a local genesis root when no cascade is stored"`
	Generate bool   `long:"generate" description:"Build and grind blocks on the local tip using the CPU"`

	CascadeStart     uint64 `long:"cascadestart" description:"Depth behind the tip at which a cascade places the new root"`
	CascadeFrequency uint64 `long:"cascadefrequency" description:"Blocks the heaviest branch may grow past cascadestart before a cascade runs"`
	CascadeTail      int    `long:"cascadetail" description:"Finalized blocks kept in memory after a cascade"`
	ValidRangeDepth  uint64 `long:"validrangedepth" description:"Blocks closer than this to the root are accepted without a full check against their parent"`
	MaxPending       int    `long:"maxpending" description:"Max units waiting for a parent or transactions"`

	MempoolMaxSize    int    `long:"mempoolmaxsize" description:"Max transactions kept in the mempool"`
	MempoolMaxSelect  int    `long:"mempoolmaxselect" description:"Max transactions selected for one block"`
	MempoolMaxRetries int    `long:"mempoolmaxretries" description:"Selection rejections a transaction survives before eviction"`
	MinBurn           uint64 `long:"minburn" description:"Base burn a transaction needs to enter the mempool"`

	SyncBatchMax     int           `long:"syncbatchmax" description:"Max blocks served per sync response"`
	SyncDedupWindow  time.Duration `long:"syncdedupwindow" description:"Repeated sync requests for the same height within this window are ignored"`
	BandwidthLimit   int           `long:"bandwidthlimit" description:"Sustained history upload rate per peer in KiB/s"`
	BandwidthBurst   int           `long:"bandwidthburst" description:"History upload burst per peer in KiB"`
	SyncPollInterval time.Duration `long:"syncpollinterval" description:"Interval between tip height checks while catching up"`
	SyncPollAttempts int           `long:"syncpollattempts" description:"Tip height checks before a catch up step is considered failed"`
	ArchiveSync      bool          `long:"archivesync" description:"Fetch archived history below the cascade from peers"`
}

// Config defines the configuration options for selfd.
//
// See loadConfig for details on the configuration load process.
type Config struct {
	*Flags
	Params  *params.Params
	Mempool *mempool.Config
	Dial    func(network, address string, timeout time.Duration) (net.Conn, error)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultAppDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

func defaultFlags() *Flags {
	defaults := params.Default(defaultChainID)
	return &Flags{
		ConfigFile:        defaultConfigFile,
		DataDir:           defaultDataDir,
		LogDir:            defaultLogDir,
		DebugLevel:        defaultLogLevel,
		MaxInboundPeers:   defaultMaxInboundPeers,
		ChainID:           defaultChainID,
		CascadeStart:      defaults.CascadeStart,
		CascadeFrequency:  defaults.CascadeFrequency,
		CascadeTail:       defaults.CascadeTail,
		ValidRangeDepth:   defaults.ValidRangeDepth,
		MaxPending:        defaults.MaxPending,
		MempoolMaxSize:    defaultMempoolMaxSize,
		MempoolMaxSelect:  defaultMempoolMaxSelect,
		MempoolMaxRetries: defaultMempoolMaxRetries,
		SyncBatchMax:      defaultSyncBatchMax,
		SyncDedupWindow:   defaultSyncDedupWindow,
		BandwidthLimit:    defaultBandwidthLimit,
		BandwidthBurst:    defaultBandwidthBurst,
		SyncPollInterval:  defaultSyncPollInterval,
		SyncPollAttempts:  defaultSyncPollAttempts,
	}
}

// DefaultConfig returns the default selfd configuration
func DefaultConfig() *Config {
	config := &Config{Flags: defaultFlags()}
	err := config.resolve()
	if err != nil {
		panic(errors.Wrap(err, "default configuration is invalid"))
	}
	return config
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

// loadConfig proceeds as follows:
// 	1) Start with a default config with sane settings
// 	2) Pre-parse the command line to check for an alternative config file
// 	3) Load configuration file overwriting defaults with any specified options
// 	4) Parse CLI options and overwrite/add any specified options
//
// Command line options always take precedence.
func loadConfig(args []string) (*Config, error) {
	cfgFlags := defaultFlags()

	preCfg := *cfgFlags
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, err
		}
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)

	if preCfg.AppDir != "" {
		appDir := cleanAndExpandPath(preCfg.AppDir)
		cfgFlags.DataDir = filepath.Join(appDir, defaultDataDirname)
		cfgFlags.LogDir = filepath.Join(appDir, defaultLogDirname)
		if preCfg.ConfigFile == defaultConfigFile {
			preCfg.ConfigFile = filepath.Join(appDir, defaultConfigFilename)
		}
	}

	parser := flags.NewParser(cfgFlags, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %s\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, err
		}
	}

	_, err = parser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, err
	}

	config := &Config{Flags: cfgFlags}
	config.DataDir = cleanAndExpandPath(config.DataDir)
	config.LogDir = cleanAndExpandPath(config.LogDir)

	if config.DebugLevel == "show" {
		fmt.Println("Supported subsystems", logger.SupportedSubsystems())
		os.Exit(0)
	}
	err = logger.ParseAndSetLogLevels(config.DebugLevel)
	if err != nil {
		err := errors.Wrap(err, "loadConfig")
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	err = config.resolve()
	if err != nil {
		err := errors.Wrap(err, "loadConfig")
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}
	return config, nil
}

// resolve validates the flags and derives Params, the mempool policy and
// the dialer.
func (config *Config) resolve() error {
	if config.Profile != "" {
		profilePort, err := strconv.Atoi(config.Profile)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			return errors.Errorf("the profile port must be between 1024 and 65535 -- parsed [%s]", config.Profile)
		}
	}
	if config.MaxInboundPeers < 0 {
		return errors.Errorf("maxinpeers may not be negative -- parsed [%d]", config.MaxInboundPeers)
	}
	if config.SyncBatchMax < 1 || config.SyncBatchMax > appmessage.MaxBlocksPerBatch {
		return errors.Errorf("syncbatchmax must be between 1 and %d -- parsed [%d]",
			appmessage.MaxBlocksPerBatch, config.SyncBatchMax)
	}
	if config.SyncPollAttempts < 1 || config.SyncPollInterval <= 0 {
		return errors.Errorf("syncpollattempts (%d) and syncpollinterval (%s) must be positive",
			config.SyncPollAttempts, config.SyncPollInterval)
	}
	if config.BandwidthLimit < 1 || config.BandwidthBurst < 1 {
		return errors.Errorf("bandwidthlimit (%d) and bandwidthburst (%d) must be positive",
			config.BandwidthLimit, config.BandwidthBurst)
	}
	if config.MempoolMaxSize < 1 || config.MempoolMaxSelect < 1 || config.MempoolMaxRetries < 0 {
		return errors.New("mempoolmaxsize and mempoolmaxselect must be positive, mempoolmaxretries not negative")
	}

	p := params.Default(config.ChainID)
	p.CascadeStart = config.CascadeStart
	p.CascadeFrequency = config.CascadeFrequency
	p.CascadeTail = config.CascadeTail
	p.ValidRangeDepth = config.ValidRangeDepth
	p.MaxPending = config.MaxPending
	p.MaxBatchBlocks = config.SyncBatchMax
	err := p.Validate()
	if err != nil {
		return err
	}
	config.Params = p

	mempoolConfig := mempool.DefaultConfig(p)
	mempoolConfig.MaximumSize = config.MempoolMaxSize
	mempoolConfig.MaximumSelect = config.MempoolMaxSelect
	mempoolConfig.MaximumRetries = config.MempoolMaxRetries
	mempoolConfig.MinimumBurn = config.MinBurn
	config.Mempool = mempoolConfig

	if (config.Proxy != "" || len(config.ConnectPeers) > 0) && len(config.Listeners) == 0 {
		config.DisableListen = true
	}
	if len(config.Listeners) == 0 && !config.DisableListen {
		config.Listeners = []string{net.JoinHostPort("", defaultListenPort)}
	}
	for i, peer := range config.ConnectPeers {
		config.ConnectPeers[i] = normalizeAddress(peer, defaultListenPort)
	}

	config.Dial = net.DialTimeout
	if config.Proxy != "" {
		_, _, err := net.SplitHostPort(config.Proxy)
		if err != nil {
			return errors.Errorf("proxy address '%s' is invalid: %s", config.Proxy, err)
		}
		proxy := &socks.Proxy{
			Addr:     config.Proxy,
			Username: config.ProxyUser,
			Password: config.ProxyPass,
		}
		config.Dial = proxy.DialTimeout
	}
	return nil
}

// normalizeAddress returns addr with the default port appended if there is
// no port.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// BandwidthBytesPerSecond returns the history upload rate in bytes.
func (config *Config) BandwidthBytesPerSecond() int {
	return config.BandwidthLimit * 1024
}

// BandwidthBurstBytes returns the history upload burst in bytes.
func (config *Config) BandwidthBurstBytes() int {
	return config.BandwidthBurst * 1024
}
