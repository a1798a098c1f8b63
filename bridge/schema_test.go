package bridge

import (
	"testing"
)

func TestValidateSessionRequest(t *testing.T) {
	v, err := NewPayloadValidator()
	if err != nil {
		t.Fatalf("NewPayloadValidator failed: %v", err)
	}

	good := `[{"peerId":"abc","peerMeta":{"name":"dapp","url":"https://dapp.example.org"}}]`
	if err := v.ValidateSessionRequest([]byte(good)); err != nil {
		t.Fatalf("Expected valid payload, got %v", err)
	}

	cases := []struct {
		name    string
		payload string
	}{
		{"not an array", `{"peerId":"abc"}`},
		{"empty array", `[]`},
		{"missing peerId", `[{"peerMeta":{"name":"dapp","url":"https://d"}}]`},
		{"empty peerId", `[{"peerId":"","peerMeta":{"name":"dapp","url":"https://d"}}]`},
		{"missing peerMeta", `[{"peerId":"abc"}]`},
		{"peerMeta missing url", `[{"peerId":"abc","peerMeta":{"name":"dapp"}}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := v.ValidateSessionRequest([]byte(tc.payload)); err == nil {
				t.Fatalf("Expected validation failure for %s", tc.payload)
			}
		})
	}
}

func TestValidateSessionUpdate(t *testing.T) {
	v, err := NewPayloadValidator()
	if err != nil {
		t.Fatalf("NewPayloadValidator failed: %v", err)
	}

	good := `[{"approved":false,"chainId":null,"accounts":null}]`
	if err := v.ValidateSessionUpdate([]byte(good)); err != nil {
		t.Fatalf("Expected valid payload, got %v", err)
	}

	bad := `[{"chainId":1}]`
	if err := v.ValidateSessionUpdate([]byte(bad)); err == nil {
		t.Fatal("Expected validation failure for update without approved")
	}
}
