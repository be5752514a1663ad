package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejectsUnknownServiceType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services["bad"] = ServiceConfig{Type: "nonsense", Endpoint: "cluster:1"}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingHostnames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ActionSets = append(cfg.ActionSets, ActionSetConfig{Name: "default"})
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownServiceReference(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ActionSets = append(cfg.ActionSets, ActionSetConfig{
		Name: "default",
		RouteRuleConditions: RouteRuleConditions{
			Hostnames: []string{"*.com"},
		},
		Actions: []ActionConfig{{Service: "missing"}},
	})
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedActionSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Services["limitador"] = ServiceConfig{
		Type:        ServiceRateLimit,
		Endpoint:    "limitador-cluster",
		FailureMode: FailureModeAllow,
	}
	cfg.ActionSets = append(cfg.ActionSets, ActionSetConfig{
		Name: "default",
		RouteRuleConditions: RouteRuleConditions{
			Hostnames:  []string{"*.com"},
			Predicates: []string{"true"},
		},
		Actions: []ActionConfig{{Service: "limitador"}},
	})
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsDuplicateActionSetNames(t *testing.T) {
	cfg := DefaultConfig()
	as := ActionSetConfig{Name: "dup", RouteRuleConditions: RouteRuleConditions{Hostnames: []string{"*.com"}}}
	cfg.ActionSets = append(cfg.ActionSets, as, as)
	require.Error(t, cfg.Validate())
}
