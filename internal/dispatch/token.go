package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// Selection tokens round-trip a device (or device+script) choice
// through the chat surface. The payload is base64url-encoded JSON so
// names containing the prefix separator, or anything else, survive
// the round trip exactly.

const (
	devicePrefix = "d:"
	scriptPrefix = "s:"
)

var errBadToken = errors.New("malformed selection token")

type tokenPayload struct {
	Device string `json:"d"`
	Script string `json:"s,omitempty"`
}

func encodeToken(prefix string, p tokenPayload) string {
	data, _ := json.Marshal(p)
	return prefix + base64.RawURLEncoding.EncodeToString(data)
}

// DeviceToken encodes a device selection.
func DeviceToken(device string) string {
	return encodeToken(devicePrefix, tokenPayload{Device: device})
}

// ScriptToken encodes a device+script selection.
func ScriptToken(device, script string) string {
	return encodeToken(scriptPrefix, tokenPayload{Device: device, Script: script})
}

// DecodeDeviceToken recovers the device name from a device token.
func DecodeDeviceToken(token string) (string, error) {
	p, err := decodeToken(devicePrefix, token)
	if err != nil {
		return "", err
	}
	return p.Device, nil
}

// DecodeScriptToken recovers the device and script names from a
// script token.
func DecodeScriptToken(token string) (device, script string, err error) {
	p, err := decodeToken(scriptPrefix, token)
	if err != nil {
		return "", "", err
	}
	if p.Script == "" {
		return "", "", errBadToken
	}
	return p.Device, p.Script, nil
}

// IsDeviceToken reports whether token carries a device selection.
func IsDeviceToken(token string) bool { return strings.HasPrefix(token, devicePrefix) }

// IsScriptToken reports whether token carries a script selection.
func IsScriptToken(token string) bool { return strings.HasPrefix(token, scriptPrefix) }

func decodeToken(prefix, token string) (tokenPayload, error) {
	var p tokenPayload
	if !strings.HasPrefix(token, prefix) {
		return p, errBadToken
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, prefix))
	if err != nil {
		return p, errBadToken
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, errBadToken
	}
	if p.Device == "" {
		return p, errBadToken
	}
	return p, nil
}
