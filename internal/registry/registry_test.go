package registry

import (
	"testing"

	"github.com/kestrelio/recursid/internal/funnel"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookupSink(t *testing.T) {
	name := "registry-test-sink"
	err := RegisterSink(name, func(kwargs map[string]any) (module.Sink, error) {
		return nil, nil
	})
	require.NoError(t, err)

	f, err := LookupSink(name)
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestLookupUnknownModuleErrors(t *testing.T) {
	_, err := LookupProducer("does-not-exist")
	assert.Error(t, err)
}

func TestFunnelClassRefusesRegistration(t *testing.T) {
	err := RegisterProducer(funnel.Name, func(map[string]any) (module.Producer, error) { return nil, nil })
	assert.Error(t, err)

	err = RegisterTransformer(funnel.Name, func(map[string]any) (module.Transformer, error) { return nil, nil })
	assert.Error(t, err)

	err = RegisterSink(funnel.Name, func(map[string]any) (module.Sink, error) { return nil, nil })
	assert.Error(t, err)
}
