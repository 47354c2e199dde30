// Package sshexec runs a single named script on a managed device over
// a transient SSH session. One session per attempt, closed on every
// exit path, with bounded retries around the whole
// connect-auth-run-capture sequence.
package sshexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/darkistan/routerbot/internal/registry"
)

// Outcome categorizes an execution result. Callers branch on it; the
// human-readable text lives in Result.Message.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeInvalidScript
	OutcomeAuthFailed
	OutcomeUnreachable
	OutcomeSessionFailed
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeInvalidScript:
		return "invalid_script"
	case OutcomeAuthFailed:
		return "auth_failed"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeSessionFailed:
		return "session_failed"
	default:
		return "unknown"
	}
}

// Result is what every Run returns. There is no error path out of the
// client: failures are classified and turned into a Message here.
type Result struct {
	Outcome  Outcome
	Output   string // captured stdout, success only
	Message  string // human-readable summary, set on every outcome
	Attempts int    // network attempts consumed
}

// Success reports whether the script ran.
func (r Result) Success() bool { return r.Outcome == OutcomeSuccess }

// scriptNamePattern is the allow-list for script identifiers. The name
// is interpolated into the remote command line, so anything outside
// alphanumerics, underscore, and dash is rejected before any network
// traffic.
var scriptNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidScriptName reports whether name is safe to interpolate into the
// remote command.
func ValidScriptName(name string) bool {
	return scriptNamePattern.MatchString(name)
}

// Runner executes one script on one device. The dispatcher depends on
// this interface so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, dev registry.Device, script string) Result
}

// conn is one established SSH connection, narrowed to what Run needs.
type conn interface {
	Output(cmd string) ([]byte, error)
	Close() error
}

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Output(cmd string) ([]byte, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()
	return sess.Output(cmd)
}

func (c *sshConn) Close() error { return c.client.Close() }

// Client runs scripts on devices over SSH with bounded retries.
type Client struct {
	Timeout     time.Duration
	MaxAttempts int
	Logger      *slog.Logger

	// dial is replaceable in tests.
	dial func(addr string, config *ssh.ClientConfig) (conn, error)
}

// NewClient creates a Client with the given per-attempt connection
// timeout and attempt cap.
func NewClient(timeout time.Duration, maxAttempts int) *Client {
	return &Client{
		Timeout:     timeout,
		MaxAttempts: maxAttempts,
		Logger:      slog.Default(),
		dial: func(addr string, config *ssh.ClientConfig) (conn, error) {
			client, err := ssh.Dial("tcp", addr, config)
			if err != nil {
				return nil, err
			}
			return &sshConn{client: client}, nil
		},
	}
}

// Run executes the named script on dev. An invalid script name fails
// immediately with zero attempts; every other failure category is
// retried up to MaxAttempts, and the final attempt's classification
// becomes the returned message. Run never returns a raw transport
// fault.
func (c *Client) Run(ctx context.Context, dev registry.Device, script string) Result {
	if !ValidScriptName(script) {
		return Result{
			Outcome: OutcomeInvalidScript,
			Message: fmt.Sprintf("Script name %q is not allowed.", script),
		}
	}

	addr := net.JoinHostPort(dev.Address, fmt.Sprintf("%d", dev.Port))
	config := &ssh.ClientConfig{
		User:            dev.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(dev.SSHPassword)},
		Timeout:         c.Timeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	var res Result
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		res = c.attempt(addr, config, script)
		res.Attempts = attempt
		if res.Success() {
			return res
		}

		// An attempt that will be retried is a warning; only the final
		// failure is an error.
		level := slog.LevelWarn
		if attempt == c.MaxAttempts || ctx.Err() != nil {
			level = slog.LevelError
		}
		c.Logger.Log(ctx, level, "script execution attempt failed",
			"device", dev.Name,
			"addr", addr,
			"script", script,
			"attempt", attempt,
			"max_attempts", c.MaxAttempts,
			"outcome", res.Outcome.String(),
		)
		if ctx.Err() != nil {
			break
		}
	}

	// Replace the generic classification with the final user-facing
	// message for the category.
	switch res.Outcome {
	case OutcomeAuthFailed:
		res.Message = "Authentication failed. Check the device's SSH password."
	case OutcomeUnreachable:
		res.Message = fmt.Sprintf("Connection failed. Check that the device is reachable at %s.", addr)
	case OutcomeSessionFailed:
		res.Message = "SSH session error: " + res.Message
	case OutcomeUnknown:
		res.Message = "Unexpected error while running the script: " + res.Message
	}
	return res
}

// attempt performs one full connect-auth-run-capture cycle. The
// connection is closed on every path out.
func (c *Client) attempt(addr string, config *ssh.ClientConfig, script string) Result {
	cn, err := c.dial(addr, config)
	if err != nil {
		return Result{Outcome: classify(err), Message: err.Error()}
	}
	defer cn.Close()

	out, err := cn.Output(remoteCommand(script))
	if err != nil {
		return Result{Outcome: OutcomeSessionFailed, Message: err.Error()}
	}

	output := strings.TrimRight(string(out), "\r\n")
	msg := "Script executed successfully."
	if output == "" {
		// Distinguish "ran silently" from "did not run".
		msg = "Script executed successfully (no output)."
	}
	return Result{Outcome: OutcomeSuccess, Output: output, Message: msg}
}

// remoteCommand builds the fixed RouterOS command line. The script
// name has already passed ValidScriptName.
func remoteCommand(script string) string {
	return "/system script run " + script
}

// classify maps a dial failure to an outcome category.
func classify(err error) Outcome {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied") {
		return OutcomeAuthFailed
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return OutcomeUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return OutcomeUnreachable
	}
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host") {
		return OutcomeUnreachable
	}

	if strings.Contains(msg, "ssh:") || strings.Contains(msg, "handshake") {
		return OutcomeSessionFailed
	}
	return OutcomeUnknown
}
