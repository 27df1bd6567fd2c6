// Package output provides output formatting for the CLI.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Format represents the output format mode.
type Format string

const (
	FormatDefault Format = "default"
	FormatJSON    Format = "json"
)

// Config holds output configuration.
type Config struct {
	Format         Format
	ShowTimestamps bool
}

// DefaultConfig returns the default output configuration.
func DefaultConfig() *Config {
	return &Config{
		Format:         FormatDefault,
		ShowTimestamps: true,
	}
}

var (
	globalConfig   = DefaultConfig()
	globalConfigMu sync.RWMutex
)

// GetConfig returns the current output configuration.
func GetConfig() *Config {
	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ConfigureFromFlags sets the output configuration from parsed CLI flags.
func ConfigureFromFlags(jsonOutput, noTimestamps bool) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	if jsonOutput {
		globalConfig.Format = FormatJSON
	} else {
		globalConfig.Format = FormatDefault
	}
	globalConfig.ShowTimestamps = !noTimestamps
}

// Result represents a structured result for JSON output.
type Result struct {
	Command string `json:"command,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// timestamp returns the current time prefix, or empty when disabled.
func timestamp() string {
	if !GetConfig().ShowTimestamps {
		return ""
	}
	return time.Now().Format("15:04:05") + " "
}

// Message prints a plain informational message.
func Message(msg string) {
	if GetConfig().Format == FormatJSON {
		printJSON(Result{Data: msg})
		return
	}
	fmt.Println(msg)
}

// Messagef prints a formatted informational message.
func Messagef(format string, args ...any) {
	Message(fmt.Sprintf(format, args...))
}

// Data prints a command result, as indented JSON in json mode and as a
// compact single line otherwise.
func Data(command string, data any) {
	if GetConfig().Format == FormatJSON {
		printJSON(Result{Command: command, Data: data})
		return
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		Error(err, "")
		return
	}
	fmt.Printf("%s%s\n", timestamp(), encoded)
}

// Event prints a live event line, prefixed with the channel it came from.
func Event(channel string, data []byte) {
	if GetConfig().Format == FormatJSON {
		printJSON(Result{Command: "event", Data: map[string]any{
			"channel": channel,
			"data":    json.RawMessage(data),
		}})
		return
	}
	fmt.Printf("%s[%s] %s\n", timestamp(), channel, data)
}

// Error prints an error to stderr, with an optional machine-readable code.
func Error(err error, code string) {
	if GetConfig().Format == FormatJSON {
		res := Result{Error: err.Error(), Code: code}
		encoded, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(os.Stderr, string(encoded))
		return
	}
	if code != "" {
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", code, err)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

func printJSON(res Result) {
	encoded, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Println(string(encoded))
}
