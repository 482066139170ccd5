package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/gatekeeper/internal/model"
	"github.com/vyrodovalexey/gatekeeper/internal/store"
)

// fakePermissionSource serves one grant and can be forced to fail.
type fakePermissionSource struct {
	permission *model.Permission
	err        error
}

func (f *fakePermissionSource) PermissionByClientAndRoute(_ context.Context, _, _ string) (*model.Permission, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.permission == nil {
		return nil, store.ErrNotFound
	}
	return f.permission, nil
}

func TestPermissionChecker_Check(t *testing.T) {
	grant := model.NewPermission("client-1", "route-1", []model.HTTPMethod{model.MethodGet, model.MethodPost})

	tests := []struct {
		name       string
		source     *fakePermissionSource
		method     model.HTTPMethod
		wantAllow  bool
		wantReason string
		wantErr    bool
	}{
		{
			name:      "grant covers method",
			source:    &fakePermissionSource{permission: grant},
			method:    model.MethodGet,
			wantAllow: true,
		},
		{
			name:       "grant excludes method",
			source:     &fakePermissionSource{permission: grant},
			method:     model.MethodDelete,
			wantReason: ReasonMethodNotAllowed,
		},
		{
			name:       "no grant",
			source:     &fakePermissionSource{},
			method:     model.MethodGet,
			wantReason: ReasonNoPermission,
		},
		{
			name:    "storage failure",
			source:  &fakePermissionSource{err: errors.New("connection refused")},
			method:  model.MethodGet,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewPermissionChecker(tt.source)
			allowed, reason, err := checker.Check(context.Background(), "client-1", "route-1", tt.method)
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, allowed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllow, allowed)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}
