// Package whitelist is the sole authoriser for remediation command
// execution: a closed registry of action types, each with a parameter
// template and per-parameter validation (spec §4.6). Nothing downstream may
// execute a command that has not passed Check.
package whitelist

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// shellMetacharacters must never appear anywhere in a whitelisted command.
const shellMetacharacters = ";|&`$()><"

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// entry describes one registered action type.
type entry struct {
	pattern    string
	paramNames []string
	validate   map[string]*regexp.Regexp
}

// Registry is the closed set of permitted action types.
type Registry struct {
	entries map[string]entry
	logger  *slog.Logger
}

// NewRegistry builds the default registry described in spec §4.6:
// restart_service, apply_updates, clear_logs.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		entries: map[string]entry{
			"restart_service": {
				pattern:    "systemctl restart {service_name}",
				paramNames: []string{"service_name"},
				validate:   map[string]*regexp.Regexp{"service_name": serviceNamePattern},
			},
			"apply_updates": {
				pattern:    "apt-get update && apt-get upgrade -y",
				paramNames: nil,
			},
			"clear_logs": {
				pattern:    "journalctl --vacuum-time=2d",
				paramNames: nil,
			},
		},
	}
}

// Check validates command against the action type's registered pattern and
// returns the extracted parameters. It is the only authoriser for execution
// per spec §4.6 — callers must invoke it before any SSH dispatch.
func (r *Registry) Check(actionType, command string) (map[string]string, error) {
	e, ok := r.entries[actionType]
	if !ok {
		r.warn(actionType, command, "unregistered action type")
		return nil, fmt.Errorf("whitelist: unregistered action type %q", actionType)
	}

	if strings.ContainsAny(command, shellMetacharacters) {
		r.warn(actionType, command, "contains shell metacharacters")
		return nil, fmt.Errorf("whitelist: command contains forbidden shell metacharacters")
	}

	if len(e.paramNames) == 0 {
		if command != e.pattern {
			r.warn(actionType, command, "fixed command does not match registry")
			return nil, fmt.Errorf("whitelist: command does not match the registered fixed command for %q", actionType)
		}
		return map[string]string{}, nil
	}

	params, err := extractParams(e.pattern, command)
	if err != nil {
		r.warn(actionType, command, err.Error())
		return nil, fmt.Errorf("whitelist: %w", err)
	}

	for _, name := range e.paramNames {
		re, ok := e.validate[name]
		if !ok {
			continue
		}
		if !re.MatchString(params[name]) {
			r.warn(actionType, command, fmt.Sprintf("parameter %q failed validation", name))
			return nil, fmt.Errorf("whitelist: parameter %q failed validation", name)
		}
	}

	return params, nil
}

func (r *Registry) warn(actionType, command, reason string) {
	if r.logger != nil {
		r.logger.Warn("whitelist rejected command", "action_type", actionType, "command", command, "reason", reason)
	}
}

// extractParams matches command against a `{name}`-templated pattern,
// extracting named segments. It only supports the single-placeholder
// shape used by the registry above, which is sufficient for spec §4.6.
func extractParams(pattern, command string) (map[string]string, error) {
	start := strings.Index(pattern, "{")
	end := strings.Index(pattern, "}")
	if start < 0 || end < 0 || end < start {
		return nil, fmt.Errorf("pattern has no placeholder")
	}
	prefix, suffix := pattern[:start], pattern[end+1:]
	name := pattern[start+1 : end]

	if !strings.HasPrefix(command, prefix) || !strings.HasSuffix(command, suffix) {
		return nil, fmt.Errorf("command does not match the registered pattern shape")
	}
	value := command[len(prefix) : len(command)-len(suffix)]
	if value == "" {
		return nil, fmt.Errorf("empty parameter value")
	}
	return map[string]string{name: value}, nil
}
