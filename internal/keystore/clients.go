package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/biosentry/biosentry/internal/model"
)

// loadClients reads the JSON-encoded client registry at path. A missing
// file is treated as an empty registry (first start).
func loadClients(path string) (map[string]model.OAuthClient, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]model.OAuthClient{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}

	var list []model.OAuthClient
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode %q: %w", path, err)
	}
	out := make(map[string]model.OAuthClient, len(list))
	for _, c := range list {
		out[c.ClientID] = c
	}
	return out, nil
}

// persistClientsLocked writes the client registry to disk. Callers must
// hold k.mu.
func (k *Keystore) persistClientsLocked() error {
	list := make([]model.OAuthClient, 0, len(k.clients))
	for _, c := range k.clients {
		list = append(list, c)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode client registry: %w", err)
	}
	if err := os.WriteFile(clientsPath(k.opts.Dir), data, 0o600); err != nil {
		return fmt.Errorf("write client registry: %w", err)
	}
	return nil
}
