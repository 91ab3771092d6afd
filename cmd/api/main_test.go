package main

import "testing"

func TestBuildInfoFromEnvDefaults(t *testing.T) {
	t.Setenv("PORTAL_BUILD_VERSION", "")
	t.Setenv("PORTAL_ENVIRONMENT", "")

	info := buildInfoFromEnv()
	if info.Version != "dev" {
		t.Fatalf("expected dev version, got %q", info.Version)
	}
	if info.Environment != "local" {
		t.Fatalf("expected local environment, got %q", info.Environment)
	}
}

func TestBuildInfoFromEnv(t *testing.T) {
	t.Setenv("PORTAL_BUILD_VERSION", "1.4.2")
	t.Setenv("PORTAL_ENVIRONMENT", "production")

	info := buildInfoFromEnv()
	if info.Version != "1.4.2" {
		t.Fatalf("unexpected version %q", info.Version)
	}
	if info.Environment != "production" {
		t.Fatalf("unexpected environment %q", info.Environment)
	}
}

func TestSecretProjectFromEnvPrefersExplicitProject(t *testing.T) {
	t.Setenv("PORTAL_SECRET_DEFAULT_PROJECT_ID", "secrets-project")
	t.Setenv("PORTAL_FIREBASE_PROJECT_ID", "firebase-project")

	if got := secretProjectFromEnv(); got != "secrets-project" {
		t.Fatalf("expected explicit secrets project, got %q", got)
	}
}

func TestSecretProjectFromEnvFallsBackToFirebaseProject(t *testing.T) {
	t.Setenv("PORTAL_SECRET_DEFAULT_PROJECT_ID", "")
	t.Setenv("PORTAL_FIREBASE_PROJECT_ID", "firebase-project")

	if got := secretProjectFromEnv(); got != "firebase-project" {
		t.Fatalf("expected firebase project fallback, got %q", got)
	}
}
