package sandbox

import (
	"errors"
	"strings"
	"testing"
)

func TestCommandForLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		language string
		wantCmd  string
		wantEnv  bool
	}{
		{"python", "python3", false},
		{"Python3", "python3", false},
		{"javascript", "node", false},
		{"node", "node", false},
		{"bash", "bash", false},
		{"go", "sh", true},
		{"golang", "sh", true},
	}

	for _, tt := range tests {
		cmd, env, err := commandForLanguage(tt.language, "print(1)")
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.language, err)
			continue
		}
		if cmd[0] != tt.wantCmd {
			t.Errorf("%s: cmd[0] = %q, want %q", tt.language, cmd[0], tt.wantCmd)
		}
		if tt.wantEnv && len(env) == 0 {
			t.Errorf("%s: expected code to be passed via environment", tt.language)
		}
	}
}

func TestCommandForLanguageCarriesCode(t *testing.T) {
	t.Parallel()

	code := `print("hello")`
	cmd, _, err := commandForLanguage("python", code)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd[len(cmd)-1] != code {
		t.Fatalf("expected code as last argument, got %q", cmd[len(cmd)-1])
	}

	_, env, err := commandForLanguage("go", code)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env) != 1 || !strings.HasSuffix(env[0], code) {
		t.Fatalf("expected SNIPPET env to carry code, got %v", env)
	}
}

func TestCommandForLanguageRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, _, err := commandForLanguage("cobol", "DISPLAY 'HI'")
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if !strings.Contains(err.Error(), "cobol") {
		t.Fatalf("error should name the language: %v", err)
	}
}

func TestHasSandboxName(t *testing.T) {
	t.Parallel()

	if !hasSandboxName([]string{"/coder-sandbox-abc"}) {
		t.Fatal("expected leading-slash sandbox name to match")
	}
	if hasSandboxName([]string{"/playground-user1"}) {
		t.Fatal("expected unrelated container name to be skipped")
	}
	if hasSandboxName(nil) {
		t.Fatal("expected empty name list to be skipped")
	}
}
