package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// ProvideVault builds a client from the VAULT_* environment. Without
// VAULT_ADDR it returns nil and config secrets are skipped.
func ProvideVault() (*vault.Client, error) {
	if os.Getenv("VAULT_ADDR") == "" {
		return nil, nil
	}

	return vault.New(vault.WithEnvironment())
}
