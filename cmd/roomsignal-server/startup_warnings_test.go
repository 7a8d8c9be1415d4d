package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/Greed71/webRTC/internal/config"
	"github.com/Greed71/webRTC/internal/registry"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupWarnings_DefaultsAreQuiet(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:                          config.ModeDev,
		DuplicateIDPolicy:             registry.DuplicateEvict,
		MaxSignalingMessageBytes:      config.DefaultMaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: config.DefaultMaxSignalingMessagesPerSecond,
	})

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("unexpected warnings: %#v", got)
	}
}

func TestStartupWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"*"},
	})

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupWarnings_EvictInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:              config.ModeProd,
		DuplicateIDPolicy: registry.DuplicateEvict,
	})

	r, ok := warningCodes(records())["duplicate_id_policy_evict_in_prod"]
	if !ok {
		t.Fatalf("expected warning_code=duplicate_id_policy_evict_in_prod, got %#v", records())
	}
	if r.attrs["duplicate_id_policy"] != registry.DuplicateEvict {
		t.Fatalf("duplicate_id_policy attr = %#v, want %q", r.attrs["duplicate_id_policy"], registry.DuplicateEvict)
	}

	logger, records = newRecordingLogger()
	logStartupWarnings(logger, config.Config{
		Mode:              config.ModeProd,
		DuplicateIDPolicy: registry.DuplicateReject,
	})
	if _, ok := warningCodes(records())["duplicate_id_policy_evict_in_prod"]; ok {
		t.Fatalf("reject policy should not warn: %#v", records())
	}
}

func TestStartupWarnings_LargeLimits(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:                          config.ModeDev,
		MaxSignalingMessageBytes:      4 << 20,
		MaxSignalingMessagesPerSecond: 5000,
	})

	got := warningCodes(records())
	for _, code := range []string{"max_signaling_message_bytes_large", "max_signaling_messages_per_second_large"} {
		if _, ok := got[code]; !ok {
			t.Fatalf("expected warning_code=%s, got %#v", code, records())
		}
	}
}
