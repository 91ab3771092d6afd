package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"PORTAL_FIREBASE_PROJECT_ID":       "solara-test",
			"PORTAL_SERVER_READ_TIMEOUT":       "5s",
			"PORTAL_CHECKOUT_SHIPPING_FEES":    "ngn=5000, usd=1500",
			"PORTAL_CHECKOUT_TAX_BASIS_POINTS": "750",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != defaultPort {
		t.Fatalf("expected default port %q, got %q", defaultPort, cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Fatalf("expected read timeout override, got %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "solara-test" {
		t.Fatalf("expected firestore project to default to firebase project, got %q", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "solara-test" {
		t.Fatalf("expected pubsub project to default to firebase project, got %q", cfg.PubSub.ProjectID)
	}
	if cfg.Checkout.DefaultCurrency != "NGN" {
		t.Fatalf("expected default currency NGN, got %q", cfg.Checkout.DefaultCurrency)
	}
	if got := cfg.Checkout.ShippingFees["NGN"]; got != 5000 {
		t.Fatalf("expected NGN shipping fee 5000, got %d", got)
	}
	if got := cfg.Checkout.ShippingFees["USD"]; got != 1500 {
		t.Fatalf("expected USD shipping fee 1500, got %d", got)
	}
	if cfg.Checkout.TaxRateBasisPoints != 750 {
		t.Fatalf("expected tax rate 750 basis points, got %d", cfg.Checkout.TaxRateBasisPoints)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://projects/solara-test/secrets/stripe-key/versions/latest" {
			t.Fatalf("unexpected secret ref %q", ref)
		}
		return "sk_test_resolved", nil
	})

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithEnvMap(map[string]string{
			"PORTAL_FIREBASE_PROJECT_ID": "solara-test",
			"PORTAL_PSP_STRIPE_API_KEY":  "sm://projects/solara-test/secrets/stripe-key/versions/latest",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PSP.StripeAPIKey != "sk_test_resolved" {
		t.Fatalf("expected resolved stripe key, got %q", cfg.PSP.StripeAPIKey)
	}
}

func TestLoadFailsWhenSecretResolverMissing(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(nil),
		WithEnvMap(map[string]string{
			"PORTAL_FIREBASE_PROJECT_ID": "solara-test",
			"PORTAL_PSP_STRIPE_API_KEY":  "secret://projects/solara-test/secrets/stripe-key/versions/latest",
		}),
	)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
}

func TestLoadReportsMissingRequiredFields(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""))

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	fields := validationErr.Fields()
	found := false
	for _, field := range fields {
		if field == "Firebase.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Firebase.ProjectID in missing fields, got %v", fields)
	}
}
