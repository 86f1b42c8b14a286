package platform

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL     Platform = "wsl"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// cached detection result
var detectedPlatform Platform
var detectionDone bool

// Detect returns the current platform, caching the result
func Detect() Platform {
	if detectionDone {
		return detectedPlatform
	}

	detectedPlatform = detectPlatform()
	detectionDone = true
	return detectedPlatform
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		return detectLinuxOrWSL()
	default:
		return PlatformUnknown
	}
}

// detectLinuxOrWSL distinguishes between native Linux and WSL
func detectLinuxOrWSL() Platform {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return PlatformWSL
	}

	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return PlatformLinux
	}
	if strings.Contains(strings.ToLower(string(procVersion)), "microsoft") {
		return PlatformWSL
	}
	return PlatformLinux
}

// IsWindows returns true on native Windows, where tmux and FIFOs are unavailable
func IsWindows() bool {
	return Detect() == PlatformWindows
}

// DefaultShell returns the interpreter used when a session does not name one.
func DefaultShell() string {
	if IsWindows() {
		return "cmd.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// TerminalLauncher describes one way of opening a visible terminal window.
type TerminalLauncher struct {
	// Program is the executable that must exist on PATH.
	Program string
	// Args builds the argument list running the given shell command inside
	// a new window.
	Args func(command string) []string
}

// TerminalLaunchers returns system terminal candidates for the current
// platform, in preference order. Empty when no windowing mechanism is known.
func TerminalLaunchers() []TerminalLauncher {
	switch Detect() {
	case PlatformMacOS:
		return []TerminalLauncher{
			{
				Program: "osascript",
				Args: func(command string) []string {
					script := `tell application "Terminal"
	do script "` + strings.ReplaceAll(command, `"`, `\"`) + `"
	activate
end tell`
					return []string{"-e", script}
				},
			},
		}
	case PlatformLinux:
		return []TerminalLauncher{
			{Program: "gnome-terminal", Args: func(command string) []string {
				return []string{"--", "sh", "-c", command}
			}},
			{Program: "xterm", Args: func(command string) []string {
				return []string{"-e", command}
			}},
			{Program: "konsole", Args: func(command string) []string {
				return []string{"-e", command}
			}},
		}
	default:
		return nil
	}
}

// HasProgram reports whether an executable is resolvable on PATH.
func HasProgram(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
