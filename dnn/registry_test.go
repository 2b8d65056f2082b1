package dnn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clstream/cldnn/ml"
)

type fakeExecutor struct{ platform ml.PlatformID }

func (e fakeExecutor) Platform() ml.PlatformID           { return e.platform }
func (e fakeExecutor) Description() ml.DeviceDescription { return ml.DeviceDescription{Name: "fake"} }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	platform := ml.NewPlatformID("test")
	id := NewPluginID("fake")
	errFactory := errors.New("factory called")

	_, err := r.NewSupport(fakeExecutor{platform})
	require.Error(t, err, "ohne Default darf nichts erzeugt werden")

	require.NoError(t, r.Register(platform, id, "fake", func(ml.Executor) (Support, error) {
		return nil, errFactory
	}))
	assert.ErrorIs(t, r.Register(platform, id, "fake", nil), ErrAlreadyRegistered)

	require.Error(t, r.SetDefault(platform, NewPluginID("unknown")))
	require.NoError(t, r.SetDefault(platform, id))

	_, err = r.NewSupport(fakeExecutor{platform})
	assert.ErrorIs(t, err, errFactory)

	infos := r.Plugins(platform)
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Default)
	assert.Equal(t, "fake", infos[0].Name)

	assert.Empty(t, r.Plugins(ml.NewPlatformID("other")))
}
