// Package bridge implements the relay transport for WalletConnect v1
// style sessions: wc: URI parsing, the pub/sub socket framing, JSON-RPC
// payloads and one reconnecting client per session.
package bridge

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/peerwallet-project/walletbridge/types"
)

// ParseURI parses a connection URI of the form
//
//	wc:<topic>@<version>?bridge=<url>&key=<hex>
//
// into a session key. This is the sole client-facing validation point;
// everything after it operates on a structurally valid key.
func ParseURI(uri string) (types.SessionKey, error) {
	var key types.SessionKey

	rest, ok := strings.CutPrefix(uri, "wc:")
	if !ok {
		return key, fmt.Errorf("missing wc: scheme in %q", uri)
	}

	head, query, _ := strings.Cut(rest, "?")
	topic, versionStr, ok := strings.Cut(head, "@")
	if !ok || topic == "" {
		return key, fmt.Errorf("missing topic or version in %q", uri)
	}

	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return key, fmt.Errorf("bad protocol version %q: %w", versionStr, err)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return key, fmt.Errorf("bad query string: %w", err)
	}

	bridgeURL := values.Get("bridge")
	if bridgeURL == "" {
		return key, fmt.Errorf("missing bridge parameter in %q", uri)
	}
	if _, err := url.Parse(bridgeURL); err != nil {
		return key, fmt.Errorf("bad bridge url %q: %w", bridgeURL, err)
	}

	symKey := values.Get("key")
	if symKey == "" {
		return key, fmt.Errorf("missing key parameter in %q", uri)
	}
	if _, err := hex.DecodeString(symKey); err != nil {
		return key, fmt.Errorf("symmetric key is not hex: %w", err)
	}

	key.Topic = topic
	key.Version = version
	key.Bridge = bridgeURL
	key.Key = symKey
	return key, nil
}

// wsURL converts the bridge HTTP(S) URL into its websocket form.
func wsURL(bridgeURL string) (string, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already websocket
	default:
		return "", fmt.Errorf("unsupported bridge scheme %q", u.Scheme)
	}
	return u.String(), nil
}
