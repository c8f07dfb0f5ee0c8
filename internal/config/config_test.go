package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func loadForTest(t *testing.T) Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	config, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	return config
}

func TestLoadConfig_Defaults(t *testing.T) {
	config := loadForTest(t)

	if config.ServerPort != "8084" {
		t.Errorf("ServerPort = %s, want 8084", config.ServerPort)
	}
	if config.ChainID != 1 {
		t.Errorf("ChainID = %d, want 1", config.ChainID)
	}
	if config.PageSize != 500 {
		t.Errorf("PageSize = %d, want 500", config.PageSize)
	}
	if config.ConfirmDepth != 3 || config.FinalizeDepth != 12 {
		t.Errorf("depths = %d/%d, want 3/12", config.ConfirmDepth, config.FinalizeDepth)
	}
	if config.PollInterval() != 5*time.Second {
		t.Errorf("PollInterval = %s, want 5s", config.PollInterval())
	}
	if config.TickTimeout() != 30*time.Second {
		t.Errorf("TickTimeout = %s, want 30s", config.TickTimeout())
	}
	if config.EventExchange != "settlement_events" {
		t.Errorf("EventExchange = %s, want settlement_events", config.EventExchange)
	}
	if config.AllowedGateways() != nil {
		t.Errorf("AllowedGateways = %v, want nil", config.AllowedGateways())
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9001")
	t.Setenv("CHAIN_ID", "137")
	t.Setenv("CONFIRM_DEPTH", "6")
	t.Setenv("FINALIZE_DEPTH", "30")
	t.Setenv("CHAIN_QUERY_URL", "http://chainquery:8545")

	config := loadForTest(t)

	if config.ServerPort != "9001" {
		t.Errorf("ServerPort = %s, want 9001", config.ServerPort)
	}
	if config.ChainID != 137 {
		t.Errorf("ChainID = %d, want 137", config.ChainID)
	}
	if config.ConfirmDepth != 6 || config.FinalizeDepth != 30 {
		t.Errorf("depths = %d/%d, want 6/30", config.ConfirmDepth, config.FinalizeDepth)
	}
	if config.ChainQueryURL != "http://chainquery:8545" {
		t.Errorf("ChainQueryURL = %s", config.ChainQueryURL)
	}
}

func TestLoadConfig_PageSizeCapAndFloor(t *testing.T) {
	t.Setenv("PAGE_SIZE", "5000")
	config := loadForTest(t)
	if config.PageSize != 1000 {
		t.Errorf("oversized PageSize = %d, want capped to 1000", config.PageSize)
	}

	t.Setenv("PAGE_SIZE", "0")
	config = loadForTest(t)
	if config.PageSize != 500 {
		t.Errorf("zero PageSize = %d, want default 500", config.PageSize)
	}
}

func TestLoadConfig_InternalAPIKeyAlias(t *testing.T) {
	t.Setenv("SETTLEMENT_SERVICE_INTERNAL_API_KEY", "secret-from-alias")
	config := loadForTest(t)
	if config.InternalAPIKey != "secret-from-alias" {
		t.Errorf("InternalAPIKey = %q, want alias value", config.InternalAPIKey)
	}

	t.Setenv("INTERNAL_API_KEY", "secret-direct")
	config = loadForTest(t)
	if config.InternalAPIKey != "secret-direct" {
		t.Errorf("InternalAPIKey = %q, the direct key must win over the alias", config.InternalAPIKey)
	}
}

func TestAllowedGateways_ParsesCSV(t *testing.T) {
	t.Setenv("GATEWAY_ALLOWLIST", " 0xAbc, 0xDef ,,0x123 ")
	config := loadForTest(t)

	want := []string{"0xAbc", "0xDef", "0x123"}
	if got := config.AllowedGateways(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllowedGateways = %v, want %v", got, want)
	}
}

func TestLoadConfig_InvertedDepthsTolerated(t *testing.T) {
	t.Setenv("CONFIRM_DEPTH", "50")
	t.Setenv("FINALIZE_DEPTH", "10")
	config := loadForTest(t)

	if config.ConfirmDepth != 50 || config.FinalizeDepth != 10 {
		t.Errorf("inverted depths must load as given, got %d/%d", config.ConfirmDepth, config.FinalizeDepth)
	}
}
