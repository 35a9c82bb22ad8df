// Package grain defines the UiView interface a confined application exports
// to its host, and the identity and sharing descriptors it exchanges.
package grain

import (
	"context"
	"fmt"

	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/marmos91/grainweb/internal/protocol/rpc"
)

// Interface IDs.
const (
	UiViewInterfaceID    uint64 = 0xdbb4d798ea67e2e7
	UiSessionInterfaceID uint64 = 0xc952a6a8b6b5d0e1
)

// UiView method ordinals.
const (
	MethodGetViewInfo uint16 = 0
	MethodNewSession  uint16 = 1
)

var (
	getViewInfoMethod = capability.Method{InterfaceID: UiViewInterfaceID, MethodID: MethodGetViewInfo, InterfaceName: "UiView", MethodName: "getViewInfo"}
	newSessionMethod  = capability.Method{InterfaceID: UiViewInterfaceID, MethodID: MethodNewSession, InterfaceName: "UiView", MethodName: "newSession"}
)

// LocalizedText is user-visible text with a default rendering.
type LocalizedText struct {
	DefaultText string
}

// Text is shorthand for a LocalizedText with only a default.
func Text(s string) LocalizedText {
	return LocalizedText{DefaultText: s}
}

// PermissionDef describes one permission bit.
type PermissionDef struct {
	Name        string
	Title       LocalizedText
	Description LocalizedText
}

// RoleDef is a named bundle of permissions offered when sharing.
type RoleDef struct {
	Title       LocalizedText
	VerbPhrase  LocalizedText
	Description LocalizedText
	Permissions []bool
}

// ViewInfo is the result of getViewInfo.
type ViewInfo struct {
	Permissions []PermissionDef
	Roles       []RoleDef
}

// UserInfo identifies the caller of newSession.
//
// Permissions is indexed like ViewInfo.Permissions. Missing trailing entries
// mean the permission is not held.
type UserInfo struct {
	DisplayName LocalizedText
	IdentityID  []byte
	Permissions []bool
}

// HasPermission reports whether bit i is set.
func (u UserInfo) HasPermission(i int) bool {
	return i >= 0 && i < len(u.Permissions) && u.Permissions[i]
}

// NewSessionRequest carries the newSession parameters.
type NewSessionRequest struct {
	UserInfo UserInfo

	// Context is borrowed for the duration of the call.
	Context *capability.Client

	SessionType   uint64
	SessionParams []byte
}

// UiView is implemented by the application's root object.
type UiView interface {
	GetViewInfo(ctx context.Context) (*ViewInfo, error)

	// NewSession returns a session capability owned by the caller.
	NewSession(ctx context.Context, req NewSessionRequest) (*capability.Client, error)
}

type newSessionParams struct {
	UserInfo      UserInfo
	Context       uint32
	SessionType   uint64
	SessionParams []byte
}

type newSessionResults struct {
	Session uint32
}

// NewUiViewServer adapts impl to a capability server.
func NewUiViewServer(impl UiView) capability.Server {
	return &uiViewServer{impl: impl}
}

type uiViewServer struct {
	impl UiView
}

func (s *uiViewServer) Dispatch(ctx context.Context, call capability.Call) (capability.Payload, error) {
	if call.Method.InterfaceID != UiViewInterfaceID {
		return capability.Payload{}, capability.MethodUnimplemented(call.Method)
	}

	switch call.Method.MethodID {
	case MethodGetViewInfo:
		info, err := s.impl.GetViewInfo(ctx)
		if err != nil {
			return capability.Payload{}, err
		}
		content, err := rpc.Marshal(info)
		if err != nil {
			return capability.Payload{}, err
		}
		return capability.Payload{Content: content}, nil

	case MethodNewSession:
		var p newSessionParams
		if err := rpc.Unmarshal(call.Params.Content, &p); err != nil {
			return capability.Payload{}, capability.Errorf("decode newSession params: %v", err)
		}

		session, err := s.impl.NewSession(ctx, NewSessionRequest{
			UserInfo:      p.UserInfo,
			Context:       call.Params.Cap(p.Context),
			SessionType:   p.SessionType,
			SessionParams: p.SessionParams,
		})
		if err != nil {
			return capability.Payload{}, err
		}

		content, err := rpc.Marshal(newSessionResults{Session: 0})
		if err != nil {
			session.Release()
			return capability.Payload{}, err
		}
		return capability.Payload{Content: content, Caps: []*capability.Client{session}}, nil

	default:
		return capability.Payload{}, capability.MethodUnimplemented(call.Method)
	}
}

func (s *uiViewServer) Shutdown() {
	if sd, ok := s.impl.(capability.Shutdowner); ok {
		sd.Shutdown()
	}
}

// UiViewClient calls a UiView through a capability it does not own.
type UiViewClient struct {
	Client *capability.Client
}

func (c UiViewClient) GetViewInfo(ctx context.Context) (*ViewInfo, error) {
	results, err := c.Client.Call(ctx, getViewInfoMethod, capability.Payload{})
	if err != nil {
		return nil, err
	}
	defer results.Release()

	info := &ViewInfo{}
	if err := rpc.Unmarshal(results.Content, info); err != nil {
		return nil, fmt.Errorf("decode view info: %w", err)
	}
	return info, nil
}

// NewSession returns the session capability; the caller must release it.
func (c UiViewClient) NewSession(ctx context.Context, req NewSessionRequest) (*capability.Client, error) {
	params := capability.Payload{}
	ctxIndex := rpc.NoCap
	if req.Context != nil {
		ctxIndex = 0
		params.Caps = []*capability.Client{req.Context}
	}

	content, err := rpc.Marshal(newSessionParams{
		UserInfo:      req.UserInfo,
		Context:       ctxIndex,
		SessionType:   req.SessionType,
		SessionParams: req.SessionParams,
	})
	if err != nil {
		return nil, err
	}
	params.Content = content

	results, err := c.Client.Call(ctx, newSessionMethod, params)
	if err != nil {
		return nil, err
	}

	var r newSessionResults
	if err := rpc.Unmarshal(results.Content, &r); err != nil {
		results.Release()
		return nil, fmt.Errorf("decode newSession results: %w", err)
	}

	session := results.Cap(r.Session)
	for i, extra := range results.Caps {
		if uint32(i) != r.Session {
			extra.Release()
		}
	}
	if session == nil {
		return nil, fmt.Errorf("newSession returned no session")
	}
	return session, nil
}
