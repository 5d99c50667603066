// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile        = "catbot.pid"
	CleanerPIDFile = "catcleaner.pid"
	ConfigFile     = "config.toml"
	EnvFile        = ".env"
	BotLogFile     = "catbot.log"
	CleanerLogFile = "catcleaner.log"
)

// DataDirRel is the default data directory, relative to $HOME.
const DataDirRel = ".catbot"

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the daemon PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// CleanerPID returns the full path to the cleaner PID file.
func (d DataDir) CleanerPID() string { return filepath.Join(d.Root, CleanerPIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Env returns the full path to the optional dotenv credentials file.
func (d DataDir) Env() string { return filepath.Join(d.Root, EnvFile) }

// BotLog returns the full path to the daemon log file.
func (d DataDir) BotLog() string { return filepath.Join(d.Root, BotLogFile) }

// CleanerLog returns the full path to the cleaner log file.
func (d DataDir) CleanerLog() string { return filepath.Join(d.Root, CleanerLogFile) }

// Resolve returns name joined to the data directory unless it is already
// absolute. An empty name stays empty.
func (d DataDir) Resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Root, name)
}
