package bridge

import (
	"testing"
)

func TestParseURI(t *testing.T) {
	uri := "wc:8a5e5bdc-a0e4-47...62516@1?bridge=https%3A%2F%2Fbridge.walletconnect.org&key=41791102999c339c844880b23950704cc43aa840f3739e365323cda4dfa89e7a"

	key, err := ParseURI(uri)
	if err != nil {
		t.Fatalf("ParseURI failed: %v", err)
	}
	if key.Topic != "8a5e5bdc-a0e4-47...62516" {
		t.Fatalf("Expected topic to be extracted, got %q", key.Topic)
	}
	if key.Version != 1 {
		t.Fatalf("Expected version 1, got %d", key.Version)
	}
	if key.Bridge != "https://bridge.walletconnect.org" {
		t.Fatalf("Expected decoded bridge url, got %q", key.Bridge)
	}
	if key.Key != "41791102999c339c844880b23950704cc43aa840f3739e365323cda4dfa89e7a" {
		t.Fatalf("Expected symmetric key, got %q", key.Key)
	}
}

func TestParseURIErrors(t *testing.T) {
	cases := []struct {
		name string
		uri  string
	}{
		{"missing scheme", "topic@1?bridge=https://b.example.org&key=ab"},
		{"missing version", "wc:topic?bridge=https://b.example.org&key=ab"},
		{"bad version", "wc:topic@one?bridge=https://b.example.org&key=ab"},
		{"missing bridge", "wc:topic@1?key=ab"},
		{"missing key", "wc:topic@1?bridge=https://b.example.org"},
		{"non-hex key", "wc:topic@1?bridge=https://b.example.org&key=zz"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseURI(tc.uri); err == nil {
				t.Fatalf("Expected error for %q", tc.uri)
			}
		})
	}
}

func TestParseURIRoundTrip(t *testing.T) {
	uri := "wc:topic-1@1?bridge=https%3A%2F%2Fbridge.example.org&key=a1b2c3d4"
	key, err := ParseURI(uri)
	if err != nil {
		t.Fatalf("ParseURI failed: %v", err)
	}
	again, err := ParseURI(key.String())
	if err != nil {
		t.Fatalf("ParseURI of rendered key failed: %v", err)
	}
	if again != key {
		t.Fatalf("Expected round trip to preserve the key, got %+v vs %+v", again, key)
	}
}

func TestWSURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://bridge.example.org", "wss://bridge.example.org"},
		{"http://localhost:5001", "ws://localhost:5001"},
		{"wss://bridge.example.org/ws", "wss://bridge.example.org/ws"},
	}
	for _, tc := range cases {
		got, err := wsURL(tc.in)
		if err != nil {
			t.Fatalf("wsURL(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Expected %q, got %q", tc.want, got)
		}
	}

	if _, err := wsURL("ftp://bridge.example.org"); err == nil {
		t.Fatal("Expected error for unsupported scheme")
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]InboundKind{
		MethodSessionRequest:    KindSessionRequest,
		MethodSessionUpdate:     KindSessionUpdate,
		MethodSendTransaction:   KindSendTransaction,
		MethodSignTransaction:   KindSignTransaction,
		MethodPersonalSign:      KindPersonalSign,
		MethodSignTypedData:     KindSignTypedData,
		MethodExchangeOrder:     KindExchangeOrder,
		MethodOrderConfirmation: KindOrderConfirmation,
		"made_up_method":        KindCustom,
	}
	for method, want := range cases {
		if got := classify(method); got != want {
			t.Fatalf("Expected %v for %s, got %v", want, method, got)
		}
	}
}

func TestNextRequestIDMonotonicish(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		id := NextRequestID()
		if seen[id] {
			t.Fatalf("Expected unique ids, got duplicate %d", id)
		}
		seen[id] = true
	}
}
