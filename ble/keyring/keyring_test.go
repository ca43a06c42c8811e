package keyring

import (
	"crypto/rand"
	"testing"

	"github.com/digital-dream-labs/victor-switchboard/ble/keys"
)

func mustIdentity(t *testing.T) keys.Identity {
	t.Helper()
	id, err := keys.GenerateIdentity(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestWithClientInsertsAndReplaces(t *testing.T) {
	id := mustIdentity(t)
	kr := Keyring{Identity: id, HasName: true, Name: "Vector A1B2"}

	client := mustIdentity(t)
	rec := ClientRecord{PublicKey: client.Public}
	kr = kr.WithClient(rec)

	got, ok := kr.Lookup(client.Public)
	if !ok {
		t.Fatal("expected client record to be found after WithClient")
	}
	if got.PublicKey != client.Public {
		t.Fatal("looked-up record has wrong public key")
	}

	var rx keys.SymmetricKey
	rx[0] = 0x42
	kr = kr.WithClient(ClientRecord{PublicKey: client.Public, Rx: rx})
	if len(kr.Clients) != 1 {
		t.Fatalf("expected WithClient to replace the existing record, got %d clients", len(kr.Clients))
	}
	got, _ = kr.Lookup(client.Public)
	if got.Rx != rx {
		t.Fatal("WithClient did not replace the existing record's fields")
	}
}

func TestLookupMissingClient(t *testing.T) {
	kr := Keyring{Identity: mustIdentity(t)}
	other := mustIdentity(t)
	if _, ok := kr.Lookup(other.Public); ok {
		t.Fatal("expected lookup on empty keyring to miss")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	kr := Keyring{Identity: mustIdentity(t)}
	client := mustIdentity(t)
	kr = kr.WithClient(ClientRecord{PublicKey: client.Public})

	clone := kr.Clone()
	clone.Clients[0].PublicKey[0] ^= 0xFF

	if kr.Clients[0].PublicKey == clone.Clients[0].PublicKey {
		t.Fatal("mutating the clone's client slice affected the original")
	}
}

func TestEqualDetectsDifferences(t *testing.T) {
	id := mustIdentity(t)
	a := Keyring{Identity: id, HasName: true, Name: "Vector A1B2"}
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatal("expected identical keyrings to compare equal")
	}

	b.Name = "Vector Z9Y8"
	if a.Equal(b) {
		t.Fatal("expected differing names to compare unequal")
	}
}
