package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/moolen/k3s-bootstrap/pkg/precondition"
	"github.com/spf13/viper"
)

// ConfigEnv names an alternate config file when --config is not given.
const ConfigEnv = "K3S_BOOTSTRAP_CONFIG"

// Load reads the optional config file. A missing file in the search paths is
// not an error; an explicitly named file that cannot be read is.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search config paths (order matters!)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.k3s-bootstrap")
		v.SetConfigName("k3s-bootstrap")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return v, nil
}

// ViperLookup exposes scalar config file values as a Lookup. CLUSTER_NAME is
// read from the key cluster_name.
func ViperLookup(v *viper.Viper) precondition.Lookup {
	return precondition.LookupFunc(func(name string) (string, bool) {
		key := strings.ToLower(name)
		if v == nil || !v.IsSet(key) {
			return "", false
		}
		return v.GetString(key), true
	})
}
