package btperipheral

import "testing"

func TestParseServiceUUIDShortHex(t *testing.T) {
	uuid, err := parseServiceUUID("fee3")
	if err != nil {
		t.Fatal(err)
	}
	if uuid.String() == "" {
		t.Fatal("expected a non-empty UUID string")
	}
}

func TestParseServiceUUIDFull(t *testing.T) {
	_, err := parseServiceUUID("0000fee3-0000-1000-8000-00805f9b34fb")
	if err != nil {
		t.Fatal(err)
	}
}

func TestParseServiceUUIDInvalid(t *testing.T) {
	if _, err := parseServiceUUID("not-a-uuid"); err == nil {
		t.Fatal("expected an error for an invalid UUID string")
	}
}
