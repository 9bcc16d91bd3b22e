package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte("super-secret-api-key")
	blob, err := Encrypt(plaintext, "correct-password")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := Decrypt(blob, "correct-password")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	blob, err := Encrypt([]byte("data"), "right")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(blob, "wrong"); err == nil {
		t.Fatal("expected error decrypting with wrong password")
	}
}

func TestDecryptTruncatedBlobFails(t *testing.T) {
	if _, err := Decrypt([]byte{1, 2, 3}, "anything"); err == nil {
		t.Fatal("expected error on truncated blob")
	}
}
