package config

import (
	"fmt"
	"strings"
)

// Environment selects a profile section that is merged over the base
// configuration.
type Environment int

const (
	EnvDefault Environment = iota
	EnvDevelopment
	EnvCertification
	EnvProduction
	EnvSandbox
	EnvIntegration
	EnvQA
)

var envNames = map[Environment]string{
	EnvDefault:       "default",
	EnvDevelopment:   "development",
	EnvCertification: "certification",
	EnvProduction:    "production",
	EnvSandbox:       "sandbox",
	EnvIntegration:   "integration",
	EnvQA:            "qa",
}

var envAliases = map[string]Environment{
	"":     EnvDefault,
	"dev":  EnvDevelopment,
	"cert": EnvCertification,
	"prod": EnvProduction,
}

// ParseEnvironment accepts the full names and the dev/cert/prod short forms.
func ParseEnvironment(s string) (Environment, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if e, ok := envAliases[s]; ok {
		return e, nil
	}
	for e, name := range envNames {
		if name == s {
			return e, nil
		}
	}
	return EnvDefault, fmt.Errorf("config: unknown environment %q", s)
}

func (e Environment) String() string {
	if name, ok := envNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Environment(%d)", int(e))
}

// SectionName is the config key holding the profile, empty for the default.
func (e Environment) SectionName() string {
	if e == EnvDefault {
		return ""
	}
	name, ok := envNames[e]
	if !ok {
		return ""
	}
	return "profiles." + name
}
