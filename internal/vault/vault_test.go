package vault

import (
	"path/filepath"
	"testing"
)

func TestCredentialsRoundTrip(t *testing.T) {
	v, err := CreateMemoryOnly("passphrase")
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	creds := Credentials{ApplicationKey: "ptla_app", ClientKey: "ptlc_client"}
	if err := v.SetCredentials(creds); err != nil {
		t.Fatal(err)
	}

	got, err := v.Credentials()
	if err != nil {
		t.Fatal(err)
	}
	if got != creds {
		t.Errorf("got %+v", got)
	}
}

func TestOpenWithWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	v, err := Create(path, "correct horse")
	if err != nil {
		t.Fatal(err)
	}
	v.SetCredentials(Credentials{ApplicationKey: "ptla_app", ClientKey: "ptlc_client"})
	if err := v.Save(); err != nil {
		t.Fatal(err)
	}
	v.Close()

	if _, err := Open(path, "battery staple"); err == nil {
		t.Error("wrong passphrase must not unlock the vault")
	}

	reopened, err := Open(path, "correct horse")
	if err != nil {
		t.Fatalf("correct passphrase rejected: %v", err)
	}
	defer reopened.Close()

	creds, err := reopened.Credentials()
	if err != nil {
		t.Fatal(err)
	}
	if creds.ApplicationKey != "ptla_app" {
		t.Errorf("application key = %q", creds.ApplicationKey)
	}
}

func TestCiphertextDoesNotLeakPlaintext(t *testing.T) {
	v, _ := CreateMemoryOnly("pw")
	v.Put(KeyApplication, []byte("super-secret-token"))

	e := v.entries[KeyApplication]
	if string(e.Ciphertext) == "super-secret-token" {
		t.Error("secret stored unencrypted")
	}
}

func TestGetUnknownKey(t *testing.T) {
	v, _ := CreateMemoryOnly("pw")
	if _, err := v.Get("nope"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestKeyNameBindsCiphertext(t *testing.T) {
	v, _ := CreateMemoryOnly("pw")
	v.Put(KeyApplication, []byte("token"))

	// Moving a sealed entry to a different slot must fail to unseal since
	// the key name is authenticated data.
	v.entries[KeyClient] = v.entries[KeyApplication]
	if _, err := v.Get(KeyClient); err == nil {
		t.Error("entry unsealed under the wrong key name")
	}
}
