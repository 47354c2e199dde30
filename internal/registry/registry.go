// Package registry loads the device inventory from its JSON backing
// file and answers access-control questions about it.
//
// The file is re-read on every Load so that administrator edits are
// picked up without restarting the bot. Nothing in the process caches
// a registry across calls.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// DefaultSSHPort is used when a device entry omits "port".
const DefaultSSHPort = 22

// Device is one entry in the registry file. All fields except Port are
// required; a missing field fails the whole load.
type Device struct {
	Name           string   `json:"-"`
	Address        string   `json:"address"`
	Port           int      `json:"port"`
	Username       string   `json:"username"`
	SSHPassword    string   `json:"ssh_password"`
	ScriptPassword string   `json:"script_password"`
	Scripts        []string `json:"scripts"`
	AllowedUsers   []string `json:"allowed_users"`
}

// Actionable reports whether the device has at least one script to
// offer. A device without scripts is valid but cannot be selected.
func (d Device) Actionable() bool {
	return len(d.Scripts) > 0
}

// Registry is the device inventory keyed by device name.
type Registry map[string]Device

// ErrNotFound is returned by Load when the registry file is absent.
var ErrNotFound = errors.New("registry file not found")

// ParseError wraps a JSON decoding failure of the registry file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("registry %s: malformed JSON: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError identifies the first device entry that is missing a
// required field.
type ValidationError struct {
	Device string
	Field  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("device %q: missing required field %q", e.Device, e.Field)
}

// Load reads and validates the registry file at path. Any malformed
// entry fails the whole load, naming the offending device and field.
func Load(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}

	var raw map[string]Device
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	reg := make(Registry, len(raw))
	for name, dev := range raw {
		dev.Name = name
		if err := validate(dev); err != nil {
			return nil, err
		}
		if dev.Port == 0 {
			dev.Port = DefaultSSHPort
		}
		reg[name] = dev
	}
	return reg, nil
}

func validate(d Device) error {
	missing := ""
	switch {
	case d.Address == "":
		missing = "address"
	case d.Username == "":
		missing = "username"
	case d.SSHPassword == "":
		missing = "ssh_password"
	case d.ScriptPassword == "":
		missing = "script_password"
	case d.Scripts == nil:
		missing = "scripts"
	case d.AllowedUsers == nil:
		missing = "allowed_users"
	}
	if missing != "" {
		return &ValidationError{Device: d.Name, Field: missing}
	}
	return nil
}

// CanAccess reports whether identity may act on the named device.
// Unknown devices are indistinguishable from denied ones.
func (r Registry) CanAccess(identity, deviceName string) bool {
	dev, ok := r[deviceName]
	if !ok {
		return false
	}
	for _, u := range dev.AllowedUsers {
		if u == identity {
			return true
		}
	}
	return false
}

// Accessible returns the devices identity may act on, sorted by name.
func (r Registry) Accessible(identity string) []Device {
	var devs []Device
	for name, dev := range r {
		if r.CanAccess(identity, name) {
			devs = append(devs, dev)
		}
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].Name < devs[j].Name })
	return devs
}

// Names returns all device names, sorted.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
