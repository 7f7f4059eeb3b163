package admin

import (
	"sort"
	"strconv"
	"sync"

	"ccexec/pkg/apperrors"
)

// configDefault is one whitelisted runtime tunable: its current value plus
// the validator that decides whether a proposed value is acceptable.
// admin_handler.c's own CONFIG_COMMAND handler is left as an unimplemented
// placeholder ("not yet supported"); this closed whitelist is this module's
// real implementation of that command.
type configDefault struct {
	value    string
	validate func(string) error
}

func validateUint(s string) error {
	if _, err := strconv.ParseUint(s, 10, 32); err != nil {
		return apperrors.New(apperrors.InvalidArgument).WithMessage("value must be a non-negative integer")
	}
	return nil
}

func validateBool(s string) error {
	if _, err := strconv.ParseBool(s); err != nil {
		return apperrors.New(apperrors.InvalidArgument).WithMessage("value must be a boolean")
	}
	return nil
}

// ConfigStore holds every admin-settable tunable, keyed by the dotted name
// spec.md's Config{Get,Set,List} commands address. Keys not present here are
// rejected outright: there is no free-form key/value store, only this
// closed set.
type ConfigStore struct {
	mu      sync.Mutex
	entries map[string]*configDefault
}

// NewConfigStore seeds the whitelist with the server's boot-time values.
func NewConfigStore(maxSessions, queueMaxSize, sessionIdleSeconds, adminIdleSeconds int) *ConfigStore {
	return &ConfigStore{
		entries: map[string]*configDefault{
			"server.max_sessions":       {value: strconv.Itoa(maxSessions), validate: validateUint},
			"queue.max_size":            {value: strconv.Itoa(queueMaxSize), validate: validateUint},
			"session.idle_timeout_secs": {value: strconv.Itoa(sessionIdleSeconds), validate: validateUint},
			"admin.idle_timeout_secs":   {value: strconv.Itoa(adminIdleSeconds), validate: validateUint},
			"queue.accept_new_jobs":     {value: "true", validate: validateBool},
		},
	}
}

// Get returns key's current value, or InvalidArgument if key isn't
// whitelisted (an unknown key is a malformed request, not a lookup miss).
func (c *ConfigStore) Get(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", apperrors.New(apperrors.InvalidArgument).WithMessage("unknown config key").WithContext(key)
	}
	return e.value, nil
}

// Set validates and stores value for key, or InvalidArgument if key isn't
// whitelisted or value fails validation.
func (c *ConfigStore) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return apperrors.New(apperrors.InvalidArgument).WithMessage("unknown config key").WithContext(key)
	}
	if err := e.validate(value); err != nil {
		return err
	}
	e.value = value
	return nil
}

// List returns every key's current value, sorted by key for stable output.
func (c *ConfigStore) List() []KV {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]KV, 0, len(c.entries))
	for k, e := range c.entries {
		out = append(out, KV{Key: k, Value: e.value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KV is one config entry as returned by List.
type KV struct {
	Key   string
	Value string
}
