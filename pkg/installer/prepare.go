package installer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/moolen/k3s-bootstrap/pkg/installer/config"
	"github.com/moolen/k3s-bootstrap/pkg/precondition"
)

// Validate resolves configuration from the environment, the config file and,
// when VAULT_CONFIG_PATH is set, Vault. It returns every missing name in one
// result; it does not build Settings.
func (i *Installer) Validate(ctx context.Context) (precondition.Result, error) {
	res, _, _, err := i.resolve(ctx)
	return res, err
}

// Prepare validates configuration and builds Settings. Missing values are
// returned as a *precondition.MissingConfigurationError before anything is
// touched on the host.
func (i *Installer) Prepare(ctx context.Context) error {
	res, lookup, v, err := i.resolve(ctx)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}

	i.settings, err = config.FromLookup(lookup, v)
	if err != nil {
		return fmt.Errorf("failed to build settings: %w", err)
	}
	logrus.Debugf("Configuration for cluster %s is complete", i.settings.ClusterName)
	return nil
}

func (i *Installer) resolve(ctx context.Context) (precondition.Result, precondition.Lookup, *viper.Viper, error) {
	v, err := config.Load(i.opts.ConfigFile)
	if err != nil {
		return precondition.Result{}, nil, nil, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logrus.Debugf("Using config file %s", used)
	}

	lookup := precondition.Chain(i.env, config.ViperLookup(v))
	lookup, err = i.withVaultLookup(ctx, lookup)
	if err != nil {
		return precondition.Result{}, nil, nil, err
	}

	res, err := precondition.Validate(config.Requirements(lookup), lookup)
	if err != nil {
		return precondition.Result{}, nil, nil, fmt.Errorf("validating configuration: %w", err)
	}
	return res, lookup, v, nil
}

// withVaultLookup appends the Vault secret at VAULT_CONFIG_PATH to the chain.
// Values already set locally take precedence.
func (i *Installer) withVaultLookup(ctx context.Context, lookup precondition.Lookup) (precondition.Lookup, error) {
	get := func(key string) string {
		v, _ := lookup.Lookup(key)
		return v
	}
	addr, token, path := get(config.KeyVaultAddr), get(config.KeyVaultToken), get(config.KeyVaultConfigPath)
	if addr == "" || token == "" || path == "" {
		return lookup, nil
	}
	mount := get(config.KeyVaultKVMount)
	if mount == "" {
		mount = config.DefaultVaultKVMount
	}

	store, err := i.newVault(addr, token)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	values, err := store.ReadSecret(ctx, mount, path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration from vault: %w", err)
	}
	logrus.Debugf("Loaded %d configuration values from vault %s/%s", len(values), mount, path)
	return precondition.Chain(lookup, precondition.Map(values)), nil
}
