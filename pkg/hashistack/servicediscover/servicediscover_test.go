package servicediscover

import (
	"testing"

	"github.com/stretchr/testify/require"

	"engagement-core/pkg/config"
)

func TestNewRegistryDisabledWithoutAddr(t *testing.T) {
	reg, err := NewRegistry(&config.Config{})
	require.NoError(t, err)
	require.Nil(t, reg)
}

func TestNewRegistryBuildsCheck(t *testing.T) {
	cfg := &config.Config{AppName: "engagement"}
	cfg.Consul.Addr = "127.0.0.1:8500"
	cfg.Consul.ServiceHost = "10.0.0.7"
	cfg.Server.Addr = "8080"

	reg, err := NewRegistry(cfg)
	require.NoError(t, err)

	cr, ok := reg.(*ConsulRegistry)
	require.True(t, ok)
	require.Equal(t, "engagement-10.0.0.7", cr.serviceID)
	require.Equal(t, 8080, cr.service.Port)
	require.Equal(t, "http://10.0.0.7:8080/readyz", cr.service.Check.HTTP)

	cfg.Server.Addr = "not-a-port"
	_, err = NewRegistry(cfg)
	require.Error(t, err)
}
