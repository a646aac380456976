package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
)

// resolveVault resolves a ${VAULT:...} reference of the form
// secret/data/path#key against the server named by VAULT_ADDR, using
// VAULT_TOKEN and, when set, VAULT_NAMESPACE.
func resolveVault(ref string) (string, error) {
	path, key, ok := strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", fmt.Errorf("invalid Vault reference %q: expected format path#key", ref)
	}

	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return "", fmt.Errorf("resolving Vault reference %q: VAULT_ADDR is not set", ref)
	}

	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		return "", fmt.Errorf("resolving Vault reference %q: VAULT_TOKEN is not set", ref)
	}

	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = addr

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return "", fmt.Errorf("creating Vault client: %w", err)
	}
	client.SetToken(token)

	if namespace := os.Getenv("VAULT_NAMESPACE"); namespace != "" {
		client.SetNamespace(namespace)
	}

	secret, err := client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("reading Vault secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no Vault secret found at %s", path)
	}

	val, ok := kvData(secret.Data)[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in Vault secret at %s", key, path)
	}

	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("Vault secret value for key %q at %s is not a string", key, path)
	}

	return str, nil
}

// kvData unwraps the "data" envelope a KV v2 mount adds around the stored
// key/value pairs; KV v1 responses pass through untouched.
func kvData(data map[string]any) map[string]any {
	if inner, ok := data["data"].(map[string]any); ok {
		return inner
	}
	return data
}
