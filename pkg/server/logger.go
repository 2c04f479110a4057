package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mikeboe/deep-search/pkg/store"
)

// DBLogHandler is a slog.Handler that writes records to the run's log in the
// store and forwards them to Next, usually the console handler.
type DBLogHandler struct {
	Store store.RunStore
	RunID string
	Level slog.Leveler
	Next  slog.Handler

	attrs  []slog.Attr
	groups []string
}

func NewDBLogHandler(st store.RunStore, runID string, level slog.Leveler, next slog.Handler) *DBLogHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &DBLogHandler{
		Store: st,
		RunID: runID,
		Level: level,
		Next:  next,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.Level.Level() {
		return true
	}
	return h.Next != nil && h.Next.Enabled(ctx, level)
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		_ = h.Next.Handle(ctx, r)
	}
	if r.Level < h.Level.Level() {
		return nil
	}

	attrs := make(map[string]interface{})
	for _, a := range h.attrs {
		addAttr(attrs, a)
	}
	leaf := nestedGroup(attrs, h.groups)
	r.Attrs(func(a slog.Attr) bool {
		addAttr(leaf, a)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	// Logs outlive the request that produced them.
	return h.Store.AppendLog(context.WithoutCancel(ctx), store.LogEntry{
		RunID:     h.RunID,
		Timestamp: ts,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := h.clone()
	if len(h.groups) > 0 {
		// Attrs added under a group land inside it.
		clone.attrs = append(clone.attrs, groupAttr(h.groups, attrs))
	} else {
		clone.attrs = append(clone.attrs, attrs...)
	}
	if h.Next != nil {
		clone.Next = h.Next.WithAttrs(attrs)
	}
	return clone
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	if h.Next != nil {
		clone.Next = h.Next.WithGroup(name)
	}
	return clone
}

func (h *DBLogHandler) clone() *DBLogHandler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	c.groups = append([]string(nil), h.groups...)
	return &c
}

func addAttr(dst map[string]interface{}, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := dst
		if a.Key != "" {
			m, ok := dst[a.Key].(map[string]interface{})
			if !ok {
				m = make(map[string]interface{})
				dst[a.Key] = m
			}
			sub = m
		}
		for _, ga := range a.Value.Group() {
			addAttr(sub, ga)
		}
		return
	}
	switch v := a.Value.Any().(type) {
	case error:
		dst[a.Key] = v.Error()
	case time.Duration:
		dst[a.Key] = v.String()
	default:
		dst[a.Key] = v
	}
}

func nestedGroup(root map[string]interface{}, groups []string) map[string]interface{} {
	m := root
	for _, g := range groups {
		sub, ok := m[g].(map[string]interface{})
		if !ok {
			sub = make(map[string]interface{})
			m[g] = sub
		}
		m = sub
	}
	return m
}

func groupAttr(groups []string, attrs []slog.Attr) slog.Attr {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	a := slog.Group(groups[len(groups)-1], args...)
	for i := len(groups) - 2; i >= 0; i-- {
		a = slog.Group(groups[i], a)
	}
	return a
}
