package main

import (
	"bytes"
	"strings"
	"testing"

	"branchledger/backend/internal/config"
	"branchledger/backend/internal/logger"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected weak pin to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"777777", "345678", "987654", "112233"} {
		if err := validatePINStrength(pin); err == nil {
			t.Fatalf("expected %s to be rejected", pin)
		}
	}
	if err := validatePINStrength("804217"); err != nil {
		t.Fatalf("expected 804217 to pass, got %v", err)
	}
}

func TestServerErrorLogWritesThroughLogger(t *testing.T) {
	var buf bytes.Buffer
	errLog := newServerErrorLog(logger.NewWithWriter(&buf))

	errLog.Printf("http: TLS handshake error from %s", "10.0.0.1:4242")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "TLS handshake error") {
		t.Fatalf("unexpected log output %q", out)
	}
	if !strings.Contains(out, `"component":"http-server"`) {
		t.Fatalf("expected component field, got %q", out)
	}
}
