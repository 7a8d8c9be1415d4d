package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML form of the server settings. Every field maps onto the
// environment variable of the same setting; durations use time.ParseDuration
// syntax.
type fileConfig struct {
	ListenAddr        string   `yaml:"listen_addr"`
	Mode              string   `yaml:"mode"`
	LogFormat         string   `yaml:"log_format"`
	LogLevel          string   `yaml:"log_level"`
	ShutdownTimeout   string   `yaml:"shutdown_timeout"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	DuplicateIDPolicy string   `yaml:"duplicate_id_policy"`

	Signaling struct {
		MaxMessageBytes      *int64 `yaml:"max_message_bytes"`
		MaxMessagesPerSecond *int   `yaml:"max_messages_per_second"`
		PingInterval         string `yaml:"ping_interval"`
		IdleTimeout          string `yaml:"idle_timeout"`
		SendQueue            *int   `yaml:"send_queue"`
	} `yaml:"signaling"`
}

func readFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	values, err := decodeFile(f)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return values, nil
}

func decodeFile(r io.Reader) (map[string]string, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	out := map[string]string{}
	set := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[key] = v
		}
	}
	set(envVarListenAddr, fc.ListenAddr)
	set(envVarMode, fc.Mode)
	set(envVarLogFormat, fc.LogFormat)
	set(envVarLogLevel, fc.LogLevel)
	set(envVarShutdownTimeout, fc.ShutdownTimeout)
	set(envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))
	set(envVarDuplicateIDPolicy, fc.DuplicateIDPolicy)
	set(envVarSignalingWSPingInterval, fc.Signaling.PingInterval)
	set(envVarSignalingWSIdleTimeout, fc.Signaling.IdleTimeout)
	if v := fc.Signaling.MaxMessageBytes; v != nil {
		out[envVarMaxSignalingMessageBytes] = strconv.FormatInt(*v, 10)
	}
	if v := fc.Signaling.MaxMessagesPerSecond; v != nil {
		out[envVarMaxSignalingMessagesPerSecond] = strconv.Itoa(*v)
	}
	if v := fc.Signaling.SendQueue; v != nil {
		out[envVarSignalingWSSendQueue] = strconv.Itoa(*v)
	}
	return out, nil
}

// layered returns a lookup that prefers env and falls back to file values.
func layered(env func(string) (string, bool), file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := env(key); ok && v != "" {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}

// configFileFromArgs finds --config before the flag set exists, so the file
// can supply flag defaults.
func configFileFromArgs(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
