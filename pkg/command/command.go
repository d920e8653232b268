// Package command implements the in-band "!" command protocol: a final
// user message beginning with "!" is intercepted before it ever reaches an
// upstream provider. Supported commands are provider-stateless (help,
// status, dlglog on|off) and session-stateful (set key=value, get key?).
package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuber-it/heinzel-gateway/pkg/session"
)

// IsCommand reports whether content is a command invocation: after trimming
// surrounding whitespace it must start with "!", be longer than one
// character, and its second character must not be a space.
func IsCommand(content string) bool {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "!") || len(trimmed) < 2 {
		return false
	}
	return trimmed[1] != ' '
}

// Parsed is the decomposed form of a command line.
type Parsed struct {
	Name string
	Args string
}

// Parse splits a command line ("!set model=foo") into its name and
// remaining argument text. Parse assumes IsCommand(line) is true.
func Parse(line string) Parsed {
	rest := strings.TrimSpace(strings.TrimSpace(line)[1:])
	fields := strings.SplitN(rest, " ", 2)
	name := strings.ToLower(fields[0])
	args := ""
	if len(fields) == 2 {
		args = strings.TrimSpace(fields[1])
	}
	return Parsed{Name: name, Args: args}
}

// Deps bundles the side effects a command may need to touch.
type Deps struct {
	Provider  string
	Model     string
	Connected bool
	Sessions  *session.Store
	DialogLog DialogLogger
	// AvailableModels, when non-empty, restricts "!set model=..." to a known
	// id. Left empty, any value is accepted (the upstream call itself will
	// reject an unknown model).
	AvailableModels []string
	// RetryConfig and RateLimitHits feed the !status snapshot.
	RetryConfig   map[string]interface{}
	RateLimitHits int
}

// DialogLogger is the minimal surface command needs from dialoglog.Logger,
// kept narrow so this package does not import dialoglog directly.
type DialogLogger interface {
	Enabled() bool
	SetEnabled(bool)
}

// Result is the outcome of executing one command.
type Result struct {
	Command string                 `json:"command"`
	Output  map[string]interface{} `json:"result"`
}

// Execute runs a parsed command against the given session and dependencies.
// Unknown commands return an "error" field in Output rather than an error
// return, since the response always flows back as a normal command_response
// chunk/body.
func Execute(p Parsed, sessionID string, deps Deps) Result {
	switch p.Name {
	case "help":
		return Result{Command: p.Name, Output: map[string]interface{}{
			"commands": []string{
				"!help", "!status", "!dlglog on|off", "!set key=value", "!get key?",
			},
			"note": "commands are handled by the gateway and never reach the upstream provider",
		}}
	case "status":
		out := map[string]interface{}{
			"provider":         deps.Provider,
			"connected":        deps.Connected,
			"default_model":    deps.Model,
			"available_models": deps.AvailableModels,
			"retry_config":     deps.RetryConfig,
			"rate_limit_hits":  deps.RateLimitHits,
		}
		if deps.DialogLog != nil {
			out["dialog_logging"] = deps.DialogLog.Enabled()
		}
		return Result{Command: p.Name, Output: out}
	case "dlglog":
		return execDlglog(p, deps)
	case "set":
		return execSet(p, sessionID, deps)
	case "get":
		return execGet(p, sessionID, deps)
	default:
		return Result{Command: p.Name, Output: map[string]interface{}{
			"error": fmt.Sprintf("unknown command: %s", p.Name),
			"hint":  "use !help to list the available commands",
		}}
	}
}

func execDlglog(p Parsed, deps Deps) Result {
	arg := strings.ToLower(strings.TrimSpace(p.Args))
	if arg == "" {
		out := map[string]interface{}{"error": "usage: !dlglog on|off"}
		if deps.DialogLog != nil {
			out["current"] = deps.DialogLog.Enabled()
		}
		return Result{Command: p.Name, Output: out}
	}
	if arg != "on" && arg != "off" {
		return Result{Command: p.Name, Output: map[string]interface{}{
			"error": fmt.Sprintf("unknown value %q: expected on or off", arg),
		}}
	}
	if deps.DialogLog != nil {
		deps.DialogLog.SetEnabled(arg == "on")
	}
	return Result{Command: p.Name, Output: map[string]interface{}{
		"ok":             true,
		"dialog_logging": arg == "on",
	}}
}

func execSet(p Parsed, sessionID string, deps Deps) Result {
	kv := strings.SplitN(p.Args, "=", 2)
	if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
		return Result{Command: p.Name, Output: map[string]interface{}{
			"error": "usage: !set key=value",
		}}
	}
	key := strings.TrimSpace(kv[0])
	value := strings.TrimSpace(kv[1])

	if deps.Sessions == nil {
		return Result{Command: p.Name, Output: map[string]interface{}{"error": "no active session"}}
	}

	var setErr string
	params := deps.Sessions.Set(sessionID, func(params *session.Params) {
		switch key {
		case "model":
			if len(deps.AvailableModels) > 0 && !containsModel(deps.AvailableModels, value) {
				setErr = fmt.Sprintf("unknown model: %s", value)
				return
			}
			v := value
			params.Model = &v
		case "temperature":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				setErr = "temperature must be a number"
				return
			}
			if f < 0 || f > 2 {
				setErr = "temperature must be between 0 and 2"
				return
			}
			params.Temperature = &f
		case "max_tokens":
			n, err := strconv.Atoi(value)
			if err != nil {
				setErr = "max_tokens must be an integer"
				return
			}
			if n < 1 {
				setErr = "max_tokens must be at least 1"
				return
			}
			params.MaxTokens = &n
		default:
			setErr = fmt.Sprintf("unknown key: %s", key)
		}
	})
	if setErr != "" {
		return Result{Command: p.Name, Output: map[string]interface{}{"error": setErr}}
	}
	return Result{Command: p.Name, Output: map[string]interface{}{
		"key": key, "value": value, "session_params": paramsToMap(params),
	}}
}

func execGet(p Parsed, sessionID string, deps Deps) Result {
	if deps.Sessions == nil {
		return Result{Command: p.Name, Output: map[string]interface{}{"error": "no active session"}}
	}
	params := deps.Sessions.Get(sessionID)

	key := strings.TrimSuffix(strings.TrimSpace(p.Args), "?")
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{Command: p.Name, Output: map[string]interface{}{
			"session_params": paramsToMap(params),
		}}
	}
	m := paramsToMap(params)
	val, ok := m[key]
	if !ok {
		return Result{Command: p.Name, Output: map[string]interface{}{
			"key": key, "value": nil, "set": false,
		}}
	}
	return Result{Command: p.Name, Output: map[string]interface{}{
		"key": key, "value": val, "set": true,
	}}
}

func containsModel(models []string, id string) bool {
	for _, m := range models {
		if m == id {
			return true
		}
	}
	return false
}

func paramsToMap(p session.Params) map[string]interface{} {
	m := map[string]interface{}{}
	if p.Model != nil {
		m["model"] = *p.Model
	}
	if p.Temperature != nil {
		m["temperature"] = *p.Temperature
	}
	if p.MaxTokens != nil {
		m["max_tokens"] = *p.MaxTokens
	}
	return m
}
