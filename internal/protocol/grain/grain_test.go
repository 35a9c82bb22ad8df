package grain

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/grainweb/internal/protocol/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopServer struct{}

func (nopServer) Dispatch(_ context.Context, call capability.Call) (capability.Payload, error) {
	return capability.Payload{Content: call.Params.Content}, nil
}

type fakeView struct {
	got     NewSessionRequest
	sawCtx  bool
	failErr error
}

func (v *fakeView) GetViewInfo(context.Context) (*ViewInfo, error) {
	return &ViewInfo{
		Permissions: []PermissionDef{{Name: "write", Title: Text("write")}},
		Roles: []RoleDef{
			{Title: Text("editor"), VerbPhrase: Text("can edit"), Permissions: []bool{true}},
		},
	}, nil
}

func (v *fakeView) NewSession(_ context.Context, req NewSessionRequest) (*capability.Client, error) {
	if v.failErr != nil {
		return nil, v.failErr
	}
	v.got = req
	v.sawCtx = req.Context != nil
	return capability.NewServerClient(nopServer{}), nil
}

func TestUiView(t *testing.T) {
	ctx := context.Background()

	t.Run("GetViewInfo", func(t *testing.T) {
		view := capability.NewServerClient(NewUiViewServer(&fakeView{}))
		defer view.Release()

		info, err := UiViewClient{Client: view}.GetViewInfo(ctx)
		require.NoError(t, err)
		require.Len(t, info.Permissions, 1)
		assert.Equal(t, "write", info.Permissions[0].Name)
		require.Len(t, info.Roles, 1)
		assert.Equal(t, "can edit", info.Roles[0].VerbPhrase.DefaultText)
		assert.Equal(t, []bool{true}, info.Roles[0].Permissions)
	})

	t.Run("NewSession", func(t *testing.T) {
		fake := &fakeView{}
		view := capability.NewServerClient(NewUiViewServer(fake))
		defer view.Release()

		sessionCtx := capability.NewServerClient(nopServer{})
		defer sessionCtx.Release()

		session, err := UiViewClient{Client: view}.NewSession(ctx, NewSessionRequest{
			UserInfo: UserInfo{
				DisplayName: Text("Alice"),
				IdentityID:  []byte{0xaa},
				Permissions: []bool{true},
			},
			Context:       sessionCtx,
			SessionType:   42,
			SessionParams: []byte{1},
		})
		require.NoError(t, err)
		require.NotNil(t, session)
		defer session.Release()

		assert.True(t, fake.sawCtx)
		assert.Equal(t, uint64(42), fake.got.SessionType)
		assert.Equal(t, "Alice", fake.got.UserInfo.DisplayName.DefaultText)
		assert.True(t, fake.got.UserInfo.HasPermission(0))
	})

	t.Run("NewSessionWithoutContext", func(t *testing.T) {
		fake := &fakeView{}
		view := capability.NewServerClient(NewUiViewServer(fake))
		defer view.Release()

		session, err := UiViewClient{Client: view}.NewSession(ctx, NewSessionRequest{SessionParams: []byte{0}})
		require.NoError(t, err)
		defer session.Release()
		assert.False(t, fake.sawCtx)
	})

	t.Run("NewSessionFailure", func(t *testing.T) {
		view := capability.NewServerClient(NewUiViewServer(&fakeView{failErr: errors.New("unsupported session type")}))
		defer view.Release()

		_, err := UiViewClient{Client: view}.NewSession(ctx, NewSessionRequest{SessionParams: []byte{0}})
		require.Error(t, err)
		assert.Equal(t, "unsupported session type", capability.ToException(err).Reason)
	})
}

func TestHasPermission(t *testing.T) {
	u := UserInfo{Permissions: []bool{false, true}}
	assert.False(t, u.HasPermission(0))
	assert.True(t, u.HasPermission(1))
	assert.False(t, u.HasPermission(2))
	assert.False(t, u.HasPermission(-1))
	assert.False(t, UserInfo{}.HasPermission(0))
}
