// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the weft data directory.
//
// Priority:
// 1. WEFT_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.weft (default)
//
// Tilde in WEFT_DATA_DIR is expanded to the user's home directory and
// relative paths are made absolute. Read directly from os.Getenv so it
// can locate the config file before viper is initialized.
func DataDir() string {
	if dataDir := os.Getenv("WEFT_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".weft"
	}
	return filepath.Join(homeDir, ".weft")
}

// expandPath expands a leading tilde and makes the path absolute.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
