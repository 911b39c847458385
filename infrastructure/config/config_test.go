package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDerivesParams(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "missing.conf")
	cfg, err := loadConfig([]string{
		"--configfile=" + configFile,
		"--chainid=3",
		"--cascadestart=10",
		"--cascadefrequency=5",
		"--syncbatchmax=40",
		"--minburn=7",
		"--syncdedupwindow=3s",
	})
	if err != nil {
		t.Fatalf("loadConfig: %+v", err)
	}
	if cfg.Params.ChainID != 3 || cfg.Params.CascadeStart != 10 || cfg.Params.CascadeFrequency != 5 {
		t.Fatalf("params not derived from flags: %+v", cfg.Params)
	}
	if cfg.Params.MaxBatchBlocks != 40 {
		t.Fatalf("MaxBatchBlocks is %d, want 40", cfg.Params.MaxBatchBlocks)
	}
	if cfg.Mempool.MinimumBurn != 7 {
		t.Fatalf("mempool floor is %d, want 7", cfg.Mempool.MinimumBurn)
	}
	if cfg.SyncDedupWindow != 3*time.Second {
		t.Fatalf("dedup window is %s", cfg.SyncDedupWindow)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0] != ":"+defaultListenPort {
		t.Fatalf("unexpected default listeners %v", cfg.Listeners)
	}
}

func TestCommandLineOverridesConfigFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "selfd.conf")
	err := os.WriteFile(configFile, []byte("[Application Options]\nmaxpending=77\ncascadetail=12\n"), 0600)
	if err != nil {
		t.Fatalf("WriteFile: %s", err)
	}
	cfg, err := loadConfig([]string{"--configfile=" + configFile, "--cascadetail=13"})
	if err != nil {
		t.Fatalf("loadConfig: %+v", err)
	}
	if cfg.Params.MaxPending != 77 {
		t.Fatalf("config file value ignored: MaxPending is %d", cfg.Params.MaxPending)
	}
	if cfg.Params.CascadeTail != 13 {
		t.Fatalf("command line did not override the file: CascadeTail is %d", cfg.Params.CascadeTail)
	}
}

func TestProxyDisablesListening(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "missing.conf")
	cfg, err := loadConfig([]string{"--configfile=" + configFile, "--proxy=127.0.0.1:9050", "--connect=10.0.0.1"})
	if err != nil {
		t.Fatalf("loadConfig: %+v", err)
	}
	if !cfg.DisableListen || len(cfg.Listeners) != 0 {
		t.Fatalf("expected listening to be disabled, got %v", cfg.Listeners)
	}
	if cfg.ConnectPeers[0] != "10.0.0.1:"+defaultListenPort {
		t.Fatalf("connect address not normalized: %s", cfg.ConnectPeers[0])
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		arg  string
	}{
		{name: "zero cascade start", arg: "--cascadestart=0"},
		{name: "zero cascade frequency", arg: "--cascadefrequency=0"},
		{name: "empty sync batch", arg: "--syncbatchmax=0"},
		{name: "sync batch above the wire bound", arg: "--syncbatchmax=5000"},
		{name: "zero bandwidth", arg: "--bandwidthlimit=0"},
		{name: "proxy without port", arg: "--proxy=localhost"},
		{name: "bad debug level", arg: "--debuglevel=loud"},
		{name: "privileged profile port", arg: "--profile=80"},
		{name: "profile port is not a number", arg: "--profile=pprof"},
		{name: "unknown flag", arg: "--nosuchflag"},
	}
	for _, test := range tests {
		configFile := filepath.Join(t.TempDir(), "missing.conf")
		_, err := loadConfig([]string{"--configfile=" + configFile, test.arg})
		if err == nil {
			t.Errorf("%s: expected an error", test.name)
		}
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Params == nil || cfg.Mempool == nil || cfg.Dial == nil {
		t.Fatalf("default config was not resolved")
	}
	if cfg.BandwidthBytesPerSecond() != defaultBandwidthLimit*1024 {
		t.Fatalf("unexpected bandwidth %d", cfg.BandwidthBytesPerSecond())
	}
}
