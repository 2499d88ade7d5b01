package db

import (
	"errors"
	"testing"

	"github.com/carverauto/hostpulse/pkg/models"
)

func TestBuildConnURL_DefaultsSSLModeDisableWithoutTLS(t *testing.T) {
	t.Parallel()

	u, err := buildConnURL(&models.PostgresConfig{
		Host:     "timescale-rw",
		Port:     5432,
		Database: "hostpulse",
	})
	if err != nil {
		t.Fatalf("buildConnURL error: %v", err)
	}

	if got := u.Query().Get("sslmode"); got != "disable" {
		t.Fatalf("sslmode=%q, want %q", got, "disable")
	}
}

func TestBuildConnURL_DefaultsPortAndPath(t *testing.T) {
	t.Parallel()

	u, err := buildConnURL(&models.PostgresConfig{
		Host:     "timescale-rw",
		Database: "hostpulse",
		Username: "poller",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("buildConnURL error: %v", err)
	}

	if u.Host != "timescale-rw:5432" {
		t.Fatalf("host=%q, want %q", u.Host, "timescale-rw:5432")
	}

	if u.Path != "/hostpulse" {
		t.Fatalf("path=%q, want %q", u.Path, "/hostpulse")
	}

	if u.User.Username() != "poller" {
		t.Fatalf("username=%q, want %q", u.User.Username(), "poller")
	}
}

func TestBuildConnURL_DefaultsSSLModeVerifyFullWithTLS(t *testing.T) {
	t.Parallel()

	u, err := buildConnURL(&models.PostgresConfig{
		Host:     "timescale-rw",
		Port:     5432,
		Database: "hostpulse",
		TLS: &models.TLSConfig{
			CertFile: "client.crt",
			KeyFile:  "client.key",
			CAFile:   "ca.crt",
		},
	})
	if err != nil {
		t.Fatalf("buildConnURL error: %v", err)
	}

	if got := u.Query().Get("sslmode"); got != "verify-full" {
		t.Fatalf("sslmode=%q, want %q", got, "verify-full")
	}
}

func TestBuildConnURL_RejectsTLSWithSSLModeDisable(t *testing.T) {
	t.Parallel()

	_, err := buildConnURL(&models.PostgresConfig{
		Host:     "timescale-rw",
		Port:     5432,
		Database: "hostpulse",
		SSLMode:  "disable",
		TLS: &models.TLSConfig{
			CertFile: "client.crt",
			KeyFile:  "client.key",
			CAFile:   "ca.crt",
		},
	})
	if !errors.Is(err, ErrTLSModeDisabled) {
		t.Fatalf("error=%v, want %v", err, ErrTLSModeDisabled)
	}
}

func TestBuildConnURL_TLSPathsResolveViaCertDir(t *testing.T) {
	t.Parallel()

	u, err := buildConnURL(&models.PostgresConfig{
		Host:     "timescale-rw",
		Port:     5432,
		Database: "hostpulse",
		CertDir:  "/etc/hostpulse/db",
		TLS: &models.TLSConfig{
			CertFile: "client.crt",
			KeyFile:  "client.key",
			CAFile:   "ca.crt",
		},
	})
	if err != nil {
		t.Fatalf("buildConnURL error: %v", err)
	}

	q := u.Query()
	if got := q.Get("sslcert"); got != "/etc/hostpulse/db/client.crt" {
		t.Fatalf("sslcert=%q, want %q", got, "/etc/hostpulse/db/client.crt")
	}

	if got := q.Get("sslkey"); got != "/etc/hostpulse/db/client.key" {
		t.Fatalf("sslkey=%q, want %q", got, "/etc/hostpulse/db/client.key")
	}

	if got := q.Get("sslrootcert"); got != "/etc/hostpulse/db/ca.crt" {
		t.Fatalf("sslrootcert=%q, want %q", got, "/etc/hostpulse/db/ca.crt")
	}
}

func TestResolveSSLMode_UsesRuntimeParamsFallback(t *testing.T) {
	t.Parallel()

	got, err := resolveSSLMode(&models.PostgresConfig{
		ExtraRuntimeParams: map[string]string{
			"sslmode": "Verify-CA",
		},
	})
	if err != nil {
		t.Fatalf("resolveSSLMode error: %v", err)
	}

	if got != "verify-ca" {
		t.Fatalf("sslmode=%q, want %q", got, "verify-ca")
	}
}
