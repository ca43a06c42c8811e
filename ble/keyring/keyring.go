// Package keyring implements the persistent key store: the robot's
// long-term identity keypair, its human-readable name, and per-client
// reconnection material, held in a magic-prefixed, atomically-rewritten
// file.
package keyring

import (
	"github.com/google/btree"

	"github.com/digital-dream-labs/victor-switchboard/ble/keys"
)

// NameFieldSize is the fixed, zero-padded width of the name field in the
// on-disk identity block.
const NameFieldSize = 32

// ClientRecord is the tuple persisted for each client the robot has
// completed first-time pairing with.
type ClientRecord struct {
	PublicKey keys.PublicKey
	Rx        keys.SymmetricKey
	Tx        keys.SymmetricKey
}

// Less orders ClientRecords by public key bytes so they can live in a
// btree.BTree, giving the keyring a keyed reconnection lookup and a
// natural path to a multi-client layout, even though this core retains
// at most one record today.
func (c ClientRecord) Less(than btree.Item) bool {
	other := than.(ClientRecord)
	for i := 0; i < len(c.PublicKey); i++ {
		if c.PublicKey[i] != other.PublicKey[i] {
			return c.PublicKey[i] < other.PublicKey[i]
		}
	}
	return false
}

// Keyring is the in-memory form of the on-disk structure.
type Keyring struct {
	Identity keys.Identity
	HasName  bool
	Name     string
	Clients  []ClientRecord
}

// Empty returns a keyring with no identity, name or clients. Load never
// returns it (an absent or invalid file is regenerated instead); v3.New
// falls back to it when Load itself fails.
func Empty() Keyring {
	return Keyring{}
}

// index builds a btree over the client list keyed by public key, used for
// reconnection lookup. The tree is rebuilt on every call.
func (k Keyring) index() *btree.BTree {
	t := btree.New(8)
	for _, c := range k.Clients {
		t.ReplaceOrInsert(c)
	}
	return t
}

// Lookup finds the client record for pub, if any.
func (k Keyring) Lookup(pub keys.PublicKey) (ClientRecord, bool) {
	item := k.index().Get(ClientRecord{PublicKey: pub})
	if item == nil {
		return ClientRecord{}, false
	}
	return item.(ClientRecord), true
}

// WithClient returns a copy of the keyring whose client list holds rec.
// For this core, at most one record is retained, so rec replaces any
// existing record, whether for the same public key or another one.
func (k Keyring) WithClient(rec ClientRecord) Keyring {
	return Keyring{
		Identity: k.Identity,
		HasName:  k.HasName,
		Name:     k.Name,
		Clients:  []ClientRecord{rec},
	}
}

// Clone returns a deep copy of the keyring.
func (k Keyring) Clone() Keyring {
	out := k
	out.Clients = append([]ClientRecord(nil), k.Clients...)
	return out
}

// Equal reports whether two keyrings hold bit-identical identity and
// client records (used by the round-trip test).
func (k Keyring) Equal(o Keyring) bool {
	if k.Identity != o.Identity || k.HasName != o.HasName || k.Name != o.Name {
		return false
	}
	if len(k.Clients) != len(o.Clients) {
		return false
	}
	for i := range k.Clients {
		if k.Clients[i] != o.Clients[i] {
			return false
		}
	}
	return true
}
