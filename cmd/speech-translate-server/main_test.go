package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"speech-translate-server/internal/domain/auth"
)

func TestTokenCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  secret: s3cret\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "token", "player"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	claims, err := auth.NewAuthToken("s3cret").VerifyToken(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Client != "player" {
		t.Fatalf("unexpected client %q", claims.Client)
	}
}

func TestTokenCommandRequiresClient(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"token"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected missing client argument to fail")
	}
}
