package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	key, hash, prefix, err := GenerateAPIKey("lora")
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}

	if !strings.HasPrefix(key, "lora_") {
		t.Errorf("key %q does not start with lora_", key)
	}
	if len(prefix) != KeyPrefixLength {
		t.Errorf("len(prefix) = %d, want %d", len(prefix), KeyPrefixLength)
	}
	if !strings.HasPrefix(key, prefix) {
		t.Errorf("prefix %q is not a prefix of the key", prefix)
	}
	if hash == key {
		t.Error("hash must not equal the plaintext key")
	}
}

func TestGenerateAPIKey_Unique(t *testing.T) {
	key1, _, _, err := GenerateAPIKey("lora")
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	key2, _, _, err := GenerateAPIKey("lora")
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if key1 == key2 {
		t.Error("two generated keys are identical")
	}
}

func TestValidateAPIKey(t *testing.T) {
	key, hash, _, err := GenerateAPIKey("lora")
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}

	if !ValidateAPIKey(key, hash) {
		t.Error("valid key rejected")
	}
	if ValidateAPIKey("lora_wrong", hash) {
		t.Error("wrong key accepted")
	}
}

func TestLookupPrefix(t *testing.T) {
	if got := LookupPrefix("lora_abcdefghij123"); got != "lora_abcde" {
		t.Errorf("LookupPrefix = %q, want lora_abcde", got)
	}
	if got := LookupPrefix("short"); got != "short" {
		t.Errorf("LookupPrefix = %q, want short", got)
	}
}
