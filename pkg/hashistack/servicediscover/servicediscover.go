package servicediscover

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"engagement-core/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module registers the HTTP service with the Consul agent for the lifetime
// of the app. It does nothing when CONSUL.ADDR is unset.
var Module = fx.Module("servicediscover",
	fx.Provide(NewRegistry),
	fx.Invoke(registerConsul),
)

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

type ConsulRegistry struct {
	client    *api.Client
	serviceID string
	service   *api.AgentServiceRegistration
}

// NewRegistry returns nil when Consul is not configured.
func NewRegistry(cfg *config.Config) (ServiceRegistry, error) {
	if cfg.Consul.Addr == "" {
		return nil, nil
	}

	host := cfg.Consul.ServiceHost
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		host = h
	}

	port, err := strconv.Atoi(cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("http port %q: %w", cfg.Server.Addr, err)
	}

	return NewConsulRegistry(cfg.Consul.Addr, cfg.AppName, fmt.Sprintf("%s-%s", cfg.AppName, host), host, port)
}

func NewConsulRegistry(address, serviceName, serviceID, host string, port int) (*ConsulRegistry, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	service := &api.AgentServiceRegistration{
		ID:      serviceID,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Check: &api.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://%s:%d/readyz", host, port),
			Interval: "10s",
			Timeout:  "5s",
		},
	}

	return &ConsulRegistry{
		client:    client,
		serviceID: serviceID,
		service:   service,
	}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.client.Agent().ServiceRegister(r.service)
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	return r.client.Agent().ServiceDeregister(r.serviceID)
}

func registerConsul(lc fx.Lifecycle, registry ServiceRegistry) {
	if registry == nil {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := registry.Register(ctx); err != nil {
				zap.L().Error("[Consul] service registration failed", zap.Error(err))
				return err
			}
			zap.L().Info("[Consul] service registered")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return registry.Deregister(ctx)
		},
	})
}
