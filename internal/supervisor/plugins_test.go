package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPluginRegistryRegisterAndIsRegistered(t *testing.T) {
	p := NewPluginRegistry()
	p.Register(newMockHandler(ResourceTypeAgent))

	require.True(t, p.IsRegistered(ResourceTypeAgent))
	require.False(t, p.IsRegistered(ResourceTypeChannel))
}

func TestPluginRegistryRegisteredTypesOrder(t *testing.T) {
	p := NewPluginRegistry()
	p.Register(newMockHandler(ResourceTypeAgent))
	p.Register(newMockHandler(ResourceTypeChannel))
	p.Register(newMockHandler(ResourceTypeTool))

	types := p.RegisteredTypes()
	require.Equal(t, []ResourceType{ResourceTypeAgent, ResourceTypeChannel, ResourceTypeTool}, types)
}

func TestPluginRegistryReRegisterPreservesOrder(t *testing.T) {
	p := NewPluginRegistry()
	p.Register(newMockHandler(ResourceTypeAgent))
	p.Register(newMockHandler(ResourceTypeChannel))
	p.Register(newMockHandler(ResourceTypeAgent))

	types := p.RegisteredTypes()
	require.Equal(t, []ResourceType{ResourceTypeAgent, ResourceTypeChannel}, types)
}

func TestPluginRegistryUnregister(t *testing.T) {
	p := NewPluginRegistry()
	p.Register(newMockHandler(ResourceTypeAgent))

	require.True(t, p.Unregister(ResourceTypeAgent))
	require.False(t, p.IsRegistered(ResourceTypeAgent))
	require.False(t, p.Unregister(ResourceTypeAgent))
}

func TestPluginRegistryWithHandlerNotRegistered(t *testing.T) {
	p := NewPluginRegistry()
	err := p.WithHandler(ResourceTypeAgent, func(ResourceHandler) error { return nil })

	require.Error(t, err)
	require.Equal(t, ErrHandlerNotRegistered, KindOf(err))
}

func TestPluginRegistryWithHandlerInvokesCallback(t *testing.T) {
	p := NewPluginRegistry()
	p.Register(newMockHandler(ResourceTypeAgent))

	var gotType ResourceType
	err := p.WithHandler(ResourceTypeAgent, func(h ResourceHandler) error {
		gotType = h.ResourceType()
		return nil
	})

	require.NoError(t, err)
	require.True(t, gotType.Equal(ResourceTypeAgent))
}

func TestPluginRegistryClear(t *testing.T) {
	p := NewPluginRegistry()
	p.Register(newMockHandler(ResourceTypeAgent))
	p.Register(newMockHandler(ResourceTypeChannel))

	p.Clear()
	require.Equal(t, 0, p.Len())
	require.Empty(t, p.RegisteredTypes())
}
