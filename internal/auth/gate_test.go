package auth

import (
	"testing"

	"github.com/hitoshi/jomovie/internal/model"
)

func TestGates(t *testing.T) {
	anon := model.Session{}
	authed := model.Session{Authenticated: true, Identity: &model.Identity{Email: "a@x.com"}}

	tests := []struct {
		name         string
		gate         func(model.Session) (string, bool)
		state        model.Session
		wantRedirect bool
		wantPath     string
	}{
		{"保護画面_未認証", ProtectedRedirect, anon, true, "/signin"},
		{"保護画面_認証済み", ProtectedRedirect, authed, false, ""},
		{"公開画面_未認証", PublicRedirect, anon, false, ""},
		{"公開画面_認証済み", PublicRedirect, authed, true, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, redirect := tt.gate(tt.state)
			if redirect != tt.wantRedirect {
				t.Errorf("redirect = %v, want %v", redirect, tt.wantRedirect)
			}
			if path != tt.wantPath {
				t.Errorf("path = %q, want %q", path, tt.wantPath)
			}
		})
	}
}
