package trackconfig

import (
	"testing"

	"github.com/hashicorp/go-multierror"
)

func validConfig() *Config {
	return &Config{
		PiwikURL:    "https://example.piwik.pro",
		SiteID:      "1",
		Recorders:   2,
		MaxAttempts: 3,
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected a valid config, got %v", err)
	}
}

func TestValidateRequiresDestination(t *testing.T) {
	cfg := validConfig()
	cfg.PiwikURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when piwik_url is missing and dry_run is false")
	}
}

func TestValidateAllowsMissingURLInDryRun(t *testing.T) {
	cfg := validConfig()
	cfg.PiwikURL = ""
	cfg.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dry_run should not require piwik_url: %v", err)
	}
}

func TestValidateRejectsBothFormatNameAndRegex(t *testing.T) {
	cfg := validConfig()
	cfg.LogFormatName = "common"
	cfg.LogFormatRegex = "^.*$"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when both log_format_name and log_format_regex are set")
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := &Config{} // missing piwik_url, site id source, recorders, max_attempts
	err := cfg.Validate()
	merr, ok := err.(*multierror.Error)
	if !ok || len(merr.Errors) != 4 {
		t.Fatalf("expected 4 collected validation errors, got %v", err)
	}
}
