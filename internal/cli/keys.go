package cli

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/docsift/internal/api/middleware"
	"github.com/kiranshivaraju/docsift/internal/store"
	"github.com/kiranshivaraju/docsift/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

// keyPrefix starts every raw API key.
const keyPrefix = "ds_"

var validScopes = []string{models.ScopeRead, models.ScopeWrite, models.ScopeAdmin}

// generateKey returns a new raw API key.
func generateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(b), nil
}

// newAPIKey builds the stored record for raw. Only the bcrypt hash and the lookup prefix are kept.
func newAPIKey(name, raw string, scopes []string, now time.Time) (*models.APIKey, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (a *app) newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys (direct database access)",
	}
	cmd.AddCommand(a.newKeysCreateCmd(), a.newKeysListCmd(), a.newKeysRevokeCmd())
	return cmd
}

func (a *app) newKeysCreateCmd() *cobra.Command {
	var (
		name   string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			for _, s := range scopes {
				if !slices.Contains(validScopes, s) {
					return fmt.Errorf("unknown scope %q: must be one of %s", s, strings.Join(validScopes, ", "))
				}
			}

			keys, release, err := a.openKeys(cmd.Context(), a.databaseURL)
			if err != nil {
				return err
			}
			defer release()

			raw, err := generateKey()
			if err != nil {
				return err
			}
			key, err := newAPIKey(name, raw, scopes, time.Now().UTC())
			if err != nil {
				return err
			}
			if err := keys.CreateAPIKey(cmd.Context(), key); err != nil {
				return fmt.Errorf("create key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key %s (%s) created with scopes %s\n", key.ID, key.Name, strings.Join(key.Scopes, ","))
			fmt.Fprintf(out, "API key: %s\n", raw)
			fmt.Fprintln(out, "Store it now; it cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Human-readable key name")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{models.ScopeRead, models.ScopeWrite}, "Scopes (read, write, admin)")
	return cmd
}

func (a *app) newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, release, err := a.openKeys(cmd.Context(), a.databaseURL)
			if err != nil {
				return err
			}
			defer release()

			list, err := keys.ListAPIKeys(cmd.Context())
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No API keys found.")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-20s  %-8s  %-18s  %s\n", "ID", "NAME", "PREFIX", "SCOPES", "LAST USED")
			for _, k := range list {
				lastUsed := "never"
				if k.LastUsedAt != nil {
					lastUsed = k.LastUsedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(out, "%-36s  %-20s  %-8s  %-18s  %s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
			}
			return nil
		},
	}
}

func (a *app) newKeysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key_id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("key id must be a UUID: %w", err)
			}

			keys, release, err := a.openKeys(cmd.Context(), a.databaseURL)
			if err != nil {
				return err
			}
			defer release()

			if err := keys.RevokeAPIKey(cmd.Context(), id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("key %s not found", id)
				}
				return fmt.Errorf("revoke key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key %s revoked\n", id)
			return nil
		},
	}
}
