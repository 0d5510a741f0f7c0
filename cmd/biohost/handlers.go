package main

import (
	"context"
	"errors"
	"time"

	"github.com/rexliu/biosdk/pkg/bio"
	"github.com/rexliu/biosdk/pkg/host"
)

const (
	methodBroadcast = "host_broadcast"
	methodNotify    = "host_notify"
)

func (d *daemon) registerHandlers() {
	d.srv.Register("bio_ping", pingHandler(d.logger))
	d.srv.Register("bio_sessionInfo", d.handleSessionInfo)
	d.srv.Register("bio_recentRequests", d.handleRecentRequests)
	d.srv.Register(methodBroadcast, d.localOnly(d.handleBroadcast))
	d.srv.Register(methodNotify, d.localOnly(d.handleNotify))
}

func pingHandler(logger host.Logger) host.HandlerFunc {
	return func(_ context.Context, r *host.Request) (any, *bio.ProviderError) {
		now := time.Now().UnixMilli()
		if logger != nil {
			logger.Printf("received ping from %s at %d", r.SessionID, now)
		}
		return map[string]any{"now": now}, nil
	}
}

func (d *daemon) handleSessionInfo(_ context.Context, r *host.Request) (any, *bio.ProviderError) {
	return map[string]any{
		"sessionId": r.SessionID,
		"origin":    r.Origin,
		"appId":     r.Session.AppID(),
		"sessions":  d.srv.SessionCount(),
		"uptimeMs":  time.Since(d.started).Milliseconds(),
	}, nil
}

type recentParams struct {
	Limit int `json:"limit"`
}

func (d *daemon) handleRecentRequests(ctx context.Context, r *host.Request) (any, *bio.ProviderError) {
	var p recentParams
	if len(r.Params) > 0 {
		if err := r.Bind(0, &p); err != nil {
			return nil, host.InvalidParams(err)
		}
	}
	entries, err := d.journal.Recent(ctx, p.Limit)
	if err != nil {
		return nil, bio.NewProviderError(bio.CodeInternalError, err.Error(), nil)
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":         e.ID,
			"method":     e.Method,
			"success":    e.Success,
			"errorCode":  e.ErrorCode,
			"answeredAt": e.AnsweredAt.UnixMilli(),
		})
	}
	return out, nil
}

type pushParams struct {
	AppID string `json:"appId"`
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

func (p pushParams) validate() error {
	if p.Event == "" {
		return errors.New("event required")
	}
	return nil
}

func (d *daemon) handleBroadcast(_ context.Context, r *host.Request) (any, *bio.ProviderError) {
	var p pushParams
	if err := r.Bind(0, &p); err != nil {
		return nil, host.InvalidParams(err)
	}
	if err := p.validate(); err != nil {
		return nil, host.InvalidParams(err)
	}
	return map[string]any{"delivered": d.srv.Broadcast(p.Event, p.Args...)}, nil
}

func (d *daemon) handleNotify(_ context.Context, r *host.Request) (any, *bio.ProviderError) {
	var p pushParams
	if err := r.Bind(0, &p); err != nil {
		return nil, host.InvalidParams(err)
	}
	if err := p.validate(); err != nil {
		return nil, host.InvalidParams(err)
	}
	if p.AppID == "" {
		return nil, host.InvalidParams(errors.New("appId required"))
	}
	if err := d.srv.Notify(p.AppID, p.Event, p.Args...); err != nil {
		return nil, bio.NewProviderError(bio.CodeDisconnected, err.Error(), map[string]any{"appId": p.AppID})
	}
	return map[string]any{"delivered": 1}, nil
}

// localOnly restricts an admin method to unix socket sessions.
func (d *daemon) localOnly(next host.HandlerFunc) host.HandlerFunc {
	return func(ctx context.Context, r *host.Request) (any, *bio.ProviderError) {
		if r.Origin != d.srv.LocalOrigin() {
			return nil, bio.NewProviderError(bio.CodeUnauthorized, "Method restricted to local sessions", nil)
		}
		return next(ctx, r)
	}
}
