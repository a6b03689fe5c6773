package optional

import (
	"encoding/json"
	"testing"
)

type account struct {
	Username        string                   `json:"username"`
	InitiatorSecret Optional[string]         `json:"initiatorSecret,omitzero"`
	Attributes      Optional[map[string]any] `json:"attributes"`
}

func TestOptionalAbsentField(t *testing.T) {
	var a account
	if err := json.Unmarshal([]byte(`{"username":"admin"}`), &a); err != nil {
		t.Fatal(err)
	}
	if a.InitiatorSecret.IsPresent() {
		t.Fatal("expect absent initiatorSecret")
	}
	if got := a.InitiatorSecret.OrElse("none"); got != "none" {
		t.Fatalf("expect none, got %q", got)
	}
}

func TestOptionalNullIsAbsent(t *testing.T) {
	var a account
	if err := json.Unmarshal([]byte(`{"username":"admin","initiatorSecret":null}`), &a); err != nil {
		t.Fatal(err)
	}
	if a.InitiatorSecret.IsPresent() {
		t.Fatal("expect null to decode as absent")
	}
}

func TestOptionalPresent(t *testing.T) {
	var a account
	if err := json.Unmarshal([]byte(`{"username":"admin","initiatorSecret":"s3cr3t"}`), &a); err != nil {
		t.Fatal(err)
	}
	v, ok := a.InitiatorSecret.Get()
	if !ok || v != "s3cr3t" {
		t.Fatalf("expect s3cr3t, got %q (present=%v)", v, ok)
	}
}

func TestOptionalEncode(t *testing.T) {
	data, err := json.Marshal(account{Username: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	expected := `{"username":"admin","attributes":null}`
	if string(data) != expected {
		t.Fatalf("expected %s, got %s", expected, data)
	}

	data, err = json.Marshal(account{Username: "admin", InitiatorSecret: Of("x")})
	if err != nil {
		t.Fatal(err)
	}
	expected = `{"username":"admin","initiatorSecret":"x","attributes":null}`
	if string(data) != expected {
		t.Fatalf("expected %s, got %s", expected, data)
	}
}

func TestOptionalString(t *testing.T) {
	if Empty[int]().String() != "Optional.empty" {
		t.Fatalf("unexpected empty string form: %s", Empty[int]())
	}
	if Of(5).String() != "Optional[5]" {
		t.Fatalf("unexpected present string form: %s", Of(5))
	}
}
