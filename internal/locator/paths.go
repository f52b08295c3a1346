package locator

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultProjectRoot returns the working directory, stepping out of a
// trailing src-tauri directory when the shell was started from there.
func DefaultProjectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if filepath.Base(wd) == "src-tauri" {
		return filepath.Dir(wd)
	}
	return wd
}

// DefaultResourceDir returns the directory holding the running executable.
func DefaultResourceDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// AppDataDir returns the per-user data directory for appID without creating it.
func AppDataDir(appID string) (string, error) {
	if appID == "" {
		return "", errors.New("empty app id")
	}
	var base string
	switch runtime.GOOS {
	case "windows", "darwin":
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		base = dir
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(base, appID), nil
}

// ResolveStoreDir picks the backend storage directory and makes sure it
// exists: override if set, else the app data dir, else projectRoot.
func ResolveStoreDir(override, appID, projectRoot string) string {
	if override != "" {
		if err := os.MkdirAll(override, 0o750); err == nil {
			return override
		}
	}
	if dir, err := AppDataDir(appID); err == nil {
		if err := os.MkdirAll(dir, 0o750); err == nil {
			return dir
		}
	}
	return projectRoot
}
