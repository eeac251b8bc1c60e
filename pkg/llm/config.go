package llm

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// GetConfigFromViper decodes the completion client settings from the global
// viper instance, applies the active profile and fills in defaults.
func GetConfigFromViper() (llmtypes.Config, error) {
	var config llmtypes.Config

	if err := viper.Unmarshal(&config); err != nil {
		return config, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if name := getActiveProfile(); name != "" {
		profiles := viper.GetStringMap("profiles")
		raw, ok := profiles[name]
		if !ok {
			return config, errors.Errorf("profile %q not found", name)
		}
		profile, ok := raw.(map[string]any)
		if !ok {
			return config, errors.Errorf("profile %q is not a map", name)
		}
		if err := applyProfile(&config, profile); err != nil {
			return config, err
		}
	}

	if config.Provider == "" {
		config.Provider = llmtypes.ProviderOpenAI
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = llmtypes.DefaultMaxTokens
	}
	if config.Retry.Attempts == 0 {
		config.Retry = llmtypes.DefaultRetryConfig
	}

	return config, nil
}

func getActiveProfile() string {
	profile := viper.GetString("profile")
	if profile == "default" {
		return ""
	}
	return profile
}

// applyProfile merges the profile on top of config. Keys absent from the
// profile keep their current values.
func applyProfile(config *llmtypes.Config, profile llmtypes.ProfileConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           config,
		WeaklyTypedInput: true,
		ZeroFields:       false,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create profile decoder")
	}

	if err := decoder.Decode(map[string]any(profile)); err != nil {
		return errors.Wrap(err, "failed to apply profile configuration")
	}
	return nil
}
