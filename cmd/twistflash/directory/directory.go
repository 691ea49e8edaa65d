// Copyright (C) 2024 OwnTech Foundation. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package directory

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

const (
	// UserConfigPathEnv if set, will load the user config from that path.
	UserConfigPathEnv = "TWISTFLASH_USER_CONFIG_PATH"
	// McumgrPathEnv if set, points at the mcumgr executable to use.
	McumgrPathEnv = "TWISTFLASH_MCUMGR_PATH"
)

func GetUserConfigPath() (string, error) {
	if path, ok := os.LookupEnv(UserConfigPathEnv); ok {
		return path, nil
	}

	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homedir, ".config", "twistflash", "config.yaml"), nil
}

func GetUserConfig() (*viper.Viper, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config path: %w", err)
	}

	cfg := viper.New()
	cfg.SetConfigType("yaml")
	cfg.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read user config: %w", err)
		}
	}
	return cfg, nil
}

func WriteConfig(cfg *viper.Viper) error {
	file := cfg.ConfigFileUsed()
	dir := filepath.Dir(file)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmpFile := filepath.Join(filepath.Dir(file), ".config.tmp.yaml")
	if err := cfg.WriteConfigAs(tmpFile); err != nil {
		return err
	}
	defer os.Remove(tmpFile)

	return os.Rename(tmpFile, file)
}

// GetMcumgrPath resolves the external mcumgr client: the environment
// override first, then the configured path, then a 3rdParties directory
// next to the working directory, then $PATH.
func GetMcumgrPath(cfg *viper.Viper) (string, error) {
	if path, ok := os.LookupEnv(McumgrPathEnv); ok {
		return path, nil
	}

	if cfg != nil {
		if path := cfg.GetString("mcumgr-path"); path != "" {
			if stat, err := os.Stat(path); err != nil || stat.IsDir() {
				return "", fmt.Errorf("the configured path '%s' did not hold the mcumgr executable", path)
			}
			return path, nil
		}
	}

	local := filepath.Join("3rdParties", Executable("mcumgr"))
	if stat, err := os.Stat(local); err == nil && !stat.IsDir() {
		return local, nil
	}

	if path, err := exec.LookPath(Executable("mcumgr")); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("mcumgr not found; install it on your PATH or set %s", McumgrPathEnv)
}

func Executable(str string) string {
	if runtime.GOOS == "windows" {
		return str + ".exe"
	}
	return str
}
