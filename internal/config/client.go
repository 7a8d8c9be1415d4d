package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
)

const (
	envClientServerURL = "ROOMSIGNAL_SERVER_URL"
	envClientUserID    = "ROOMSIGNAL_USER_ID"
	envClientMedia     = "ROOMSIGNAL_MEDIA"
	envClientLogLevel  = "ROOMSIGNAL_CLIENT_LOG_LEVEL"

	DefaultServerURL   = "http://127.0.0.1:3000"
	DefaultClientMedia = "audio,video"

	// MediaNone disables local tracks; the session then carries chat only.
	MediaNone = "none"
)

// Client is the command-line participant configuration. The CLI binds each
// field to a flag whose default comes from ClientFromEnv.
type Client struct {
	ServerURL string
	UserID    string
	Media     string
	LogLevel  string
	ICE       ICESettings
}

func ClientFromEnv() Client {
	return clientFromEnv(os.LookupEnv)
}

func clientFromEnv(lookup func(string) (string, bool)) Client {
	return Client{
		ServerURL: envOrDefault(lookup, envClientServerURL, DefaultServerURL),
		UserID:    envOrDefault(lookup, envClientUserID, uuid.NewString()),
		Media:     envOrDefault(lookup, envClientMedia, DefaultClientMedia),
		LogLevel:  envOrDefault(lookup, envClientLogLevel, "warn"),
		ICE:       iceSettingsFromEnv(lookup),
	}
}

func (c Client) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("user id must not be empty")
	}
	if _, err := c.BaseURL(); err != nil {
		return err
	}
	if _, err := c.MediaKinds(); err != nil {
		return err
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	_, err := c.ICE.Servers()
	return err
}

// BaseURL parses ServerURL, which must be http or https without query.
func (c Client) BaseURL() (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(c.ServerURL))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q (expected http:// or https://)", c.ServerURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q (missing host)", c.ServerURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("invalid server url %q (must not include query or fragment)", c.ServerURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// WebSocketURL is the duplex channel endpoint for UserID.
func (c Client) WebSocketURL() (string, error) {
	u, err := c.BaseURL()
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"userId": []string{c.UserID}}.Encode()
	return u.String(), nil
}

// MediaKinds returns the initial local track kinds in a stable order.
func (c Client) MediaKinds() ([]string, error) {
	var audio, video bool
	for _, kind := range splitCommaSeparated(strings.ToLower(c.Media)) {
		switch kind {
		case "audio":
			audio = true
		case "video":
			video = true
		case MediaNone:
		default:
			return nil, fmt.Errorf("invalid media kind %q (expected audio, video or none)", kind)
		}
	}
	var out []string
	if audio {
		out = append(out, "audio")
	}
	if video {
		out = append(out, "video")
	}
	return out, nil
}

// NewClientLogger logs text to w, normally stderr so stdout stays readable.
func NewClientLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return newLogger(w, LogFormatText, lvl)
}
