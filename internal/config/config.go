// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Package config resolves the cluster key manager's process-wide
// configuration: the environment variables of spec.md §6, optionally
// overlaid with a config file read through viper (grounded on the
// viper-based configuration layers used elsewhere in the example
// corpus). Environment variables always win over the config file so
// operators can override a shipped config without editing it.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	envEnabled           = "CKM_ENABLED"
	envPassphraseCommand = "CKM_PASSPHRASE_COMMAND"
	envDataDir           = "CKM_DATA_DIR"
	envLogLevel          = "CKM_LOG_LEVEL"
	envPassphraseMinLen  = "CKM_PASSPHRASE_MIN"
	envPassphraseMaxLen  = "CKM_PASSPHRASE_MAX"
	defaultPassphraseMin = 8
	defaultPassphraseMax = 1024
	primaryDirName       = "keys"
	tmpDirName           = "keys.tmp"
	configFileBaseName   = "config"
)

var v = viper.New()
var loadOnce sync.Once

func load() {
	v.SetConfigName(configFileBaseName)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".ckm"))
	v.SetEnvPrefix("CKM")
	v.AutomaticEnv()
	// Errors are expected and ignored: an absent config file simply
	// means every setting falls back to its environment/default value.
	_ = v.ReadInConfig()
}

func ensureLoaded() {
	loadOnce.Do(load)
}

func homeDir() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return h
}

// Enabled reports whether key management is active. When false,
// pkg/ckm reports a shared cache size of zero and its Bootstrap,
// Startup, Get and Rotate refuse with kmerrors.ErrFeatureDisabled.
func Enabled() bool {
	ensureLoaded()
	if s, ok := os.LookupEnv(envEnabled); ok {
		b, err := strconv.ParseBool(s)
		if err == nil {
			return b
		}
	}
	if v.IsSet("enabled") {
		return v.GetBool("enabled")
	}
	return true
}

// PassphraseCommand returns the shell template used to obtain the
// cluster passphrase. The literal token %p is replaced with the fixed
// prompt string by the passphrase package; %% emits a literal %.
func PassphraseCommand() string {
	ensureLoaded()
	if s := os.Getenv(envPassphraseCommand); s != "" {
		return s
	}
	if s := v.GetString("passphrase_command"); s != "" {
		return s
	}
	return ""
}

// DataDir returns the parent directory of PRIMARY_DIR and TMP_DIR,
// creating it (owner-only permissions) if necessary.
func DataDir() string {
	ensureLoaded()
	dir := os.Getenv(envDataDir)
	if dir == "" {
		dir = v.GetString("data_dir")
	}
	if dir == "" {
		dir = filepath.Join(homeDir(), ".ckm", "data")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		panic(err)
	}
	return dir
}

// PrimaryDir returns the live wrapped-key directory (PRIMARY_DIR).
func PrimaryDir() string {
	return filepath.Join(DataDir(), primaryDirName)
}

// TmpDir returns the rotation staging directory (TMP_DIR).
func TmpDir() string {
	return filepath.Join(DataDir(), tmpDirName)
}

// PassphraseMin returns the minimum accepted passphrase length in bytes.
func PassphraseMin() int {
	ensureLoaded()
	return intSetting(envPassphraseMinLen, "passphrase_min", defaultPassphraseMin)
}

// PassphraseMax returns the maximum accepted passphrase length in bytes.
func PassphraseMax() int {
	ensureLoaded()
	return intSetting(envPassphraseMaxLen, "passphrase_max", defaultPassphraseMax)
}

func intSetting(envKey, viperKey string, fallback int) int {
	if s := os.Getenv(envKey); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	if v.IsSet(viperKey) {
		return v.GetInt(viperKey)
	}
	return fallback
}

// LogLevel returns the slog level derived from CKM_LOG_LEVEL, defaulting
// to Warn when unset or unrecognized.
func LogLevel() slog.Level {
	ensureLoaded()
	level := os.Getenv(envLogLevel)
	if level == "" {
		level = v.GetString("log_level")
	}
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
