// Package app implements the grain's application objects: the UiView handed
// to the host at bootstrap and the per-caller WebSession it mints.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/grainweb/internal/logger"
	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/marmos91/grainweb/internal/protocol/grain"
	"github.com/marmos91/grainweb/internal/protocol/rpc"
	"github.com/marmos91/grainweb/internal/protocol/websession"
	"github.com/marmos91/grainweb/pkg/metrics"
	"github.com/marmos91/grainweb/pkg/store"
)

// PermissionWrite is the index of the "write" permission.
const PermissionWrite = 0

// ErrUnsupportedSessionType is returned by NewSession for session types
// other than WebSession.
var ErrUnsupportedSessionType = capability.Errorf("unsupported session type")

// ViewInfo returns the grain's sharing model: a single "write" permission,
// held by editors and not by viewers.
func ViewInfo() *grain.ViewInfo {
	return &grain.ViewInfo{
		Permissions: []grain.PermissionDef{
			{Name: "write", Title: grain.Text("write")},
		},
		Roles: []grain.RoleDef{
			{
				Title:       grain.Text("editor"),
				VerbPhrase:  grain.Text("can edit"),
				Permissions: []bool{true},
			},
			{
				Title:       grain.Text("viewer"),
				VerbPhrase:  grain.Text("can view"),
				Permissions: []bool{false},
			},
		},
	}
}

// ViewConfig configures a View.
type ViewConfig struct {
	// Static is the read-only tree served for paths outside "var/".
	Static store.StaticTree

	// Data is the mutable store behind "var/".
	Data store.Store

	// Metrics records session activity. Nil selects a no-op implementation.
	Metrics metrics.SessionMetrics

	// API is the host's API capability, usually a promise resolved after
	// bootstrap. The view takes ownership and releases it on shutdown.
	API *capability.Client
}

// View is the grain's root object.
type View struct {
	static  store.StaticTree
	data    store.Store
	metrics metrics.SessionMetrics

	mu  sync.Mutex
	api *capability.Client
}

var (
	_ grain.UiView          = (*View)(nil)
	_ capability.Shutdowner = (*View)(nil)
)

// NewView creates a view serving static and data.
func NewView(cfg ViewConfig) (*View, error) {
	if cfg.Static == nil {
		return nil, fmt.Errorf("static tree is required")
	}
	if cfg.Data == nil {
		return nil, fmt.Errorf("data store is required")
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoopSessionMetrics()
	}

	return &View{
		static:  cfg.Static,
		data:    cfg.Data,
		metrics: m,
		api:     cfg.API,
	}, nil
}

// GetViewInfo returns ViewInfo().
func (v *View) GetViewInfo(ctx context.Context) (*grain.ViewInfo, error) {
	return ViewInfo(), nil
}

// NewSession mints a WebSession for the caller described by req. Write
// access is fixed from the caller's permission bits now and never changes.
func (v *View) NewSession(ctx context.Context, req grain.NewSessionRequest) (*capability.Client, error) {
	session, err := v.newSession(req)
	if err != nil {
		return nil, err
	}
	return websession.NewClient(session), nil
}

func (v *View) newSession(req grain.NewSessionRequest) (*Session, error) {
	if req.SessionType != websession.InterfaceID {
		logger.Warn("Rejected session of unsupported type %016x", req.SessionType)
		return nil, ErrUnsupportedSessionType
	}

	var params websession.Params
	if len(req.SessionParams) > 0 {
		if err := rpc.Unmarshal(req.SessionParams, &params); err != nil {
			return nil, capability.Errorf("decode session params: %v", err)
		}
	}

	session := &Session{
		id:       uuid.NewString(),
		canWrite: req.UserInfo.HasPermission(PermissionWrite),
		user:     req.UserInfo.DisplayName.DefaultText,
		params:   params,
		static:   v.static,
		data:     v.data,
		metrics:  v.metrics,
	}

	logger.Info("Session %s created (user=%q can_write=%t user_agent=%q)",
		session.id, session.user, session.canWrite, params.UserAgent)
	v.metrics.RecordSessionCreated(session.canWrite)
	return session, nil
}

// API returns the host API capability, or nil once the view has shut down.
// The caller borrows the result.
func (v *View) API() *capability.Client {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.api
}

// Shutdown releases the host API capability.
func (v *View) Shutdown() {
	v.mu.Lock()
	api := v.api
	v.api = nil
	v.mu.Unlock()

	api.Release()
}
