// Package clihelp provides shared CLI presentation helpers for vex's
// subcommands: version reporting, usage printing, and a small timestamped
// logger. Nothing here is a package-level singleton; every tool threads its
// own *Logger through explicitly (see Design Notes on global
// mutable state).
package clihelp

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

const (
	Version   = "0.1.0"
	BuildDate = "2026-07-31"
)

// VersionInfo is the structured form printed by `vex --version`.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
}

func GetVersionInfo() *VersionInfo {
	return &VersionInfo{
		Version:   Version,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

func PrintVersion(tool string) {
	info := GetVersionInfo()
	fmt.Printf("%s v%s\n", tool, info.Version)
	fmt.Printf("Go Version: %s\n", info.GoVersion)
	fmt.Printf("Platform: %s/%s\n", info.Platform, info.Arch)
}

// Logger is a minimal level-gated logger: Info/Debug only print when the
// corresponding flag is set, Warn/Error always print.
type Logger struct {
	Verbose bool
	Debug   bool
}

func NewLogger(verbose, debug bool) *Logger {
	return &Logger{Verbose: verbose, Debug: debug}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.Verbose {
		fmt.Printf("[INFO] %s: %s\n", stamp(), fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.Debug {
		fmt.Printf("[DEBUG] %s: %s\n", stamp(), fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[WARN] %s: %s\n", stamp(), fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[ERROR] %s: %s\n", stamp(), fmt.Sprintf(format, args...))
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

// Command describes one subcommand for PrintUsage.
type Command struct {
	Name        string
	Description string
}

func PrintUsage(tool string, commands []Command) {
	fmt.Printf("%s - C memory leak root-cause analyzer\n\n", tool)
	fmt.Printf("USAGE:\n    %s <command> [OPTIONS]\n\n", tool)
	if len(commands) > 0 {
		fmt.Printf("COMMANDS:\n")
		for _, c := range commands {
			fmt.Printf("    %-12s %s\n", c.Name, c.Description)
		}
		fmt.Printf("\n")
	}
	fmt.Printf("GLOBAL OPTIONS:\n")
	fmt.Printf("    --help, -h     Show help information\n")
	fmt.Printf("    --version      Show version information\n")
}

// ExitWithError prints a formatted error to stderr and exits with code.
func ExitWithError(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(code)
}
