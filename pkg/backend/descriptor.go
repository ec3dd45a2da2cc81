package backend

import "time"

// Descriptor is the immutable, config-loaded definition of one backend
// (§3 "Backend descriptor"). Only the "stdio" transport kind is required
// to be supported by this gateway.
type Descriptor struct {
	// ID is the stable identifier used in qualified catalog names and in
	// error data (§4.4 data.backendId).
	ID string `json:"id"`

	// Name is a human-readable display name, distinct from ID (SPEC_FULL
	// supplement).
	Name string `json:"name"`

	// Transport is the transport kind. "stdio" is the only value this
	// gateway implements.
	Transport string `json:"transport"`

	// Command and Args launch the child process.
	Command string   `json:"command"`
	Args    []string `json:"args"`

	// Env holds additional environment variables merged on top of the
	// gateway process's own environment when spawning the child.
	Env map[string]string `json:"env"`

	// Enabled backends are started at Registry startup; disabled ones are
	// recorded but never spawned.
	Enabled bool `json:"enabled"`

	// ConnectTimeout bounds the initialize handshake after spawn.
	ConnectTimeout time.Duration `json:"connectTimeout"`

	// MaxRestarts is the number of consecutive restart attempts allowed
	// before the backend is left permanently Degraded.
	MaxRestarts int `json:"maxRestarts"`

	// RequestTimeout is the default per-call deadline applied to outbound
	// requests to this backend, absent a tighter Router-enforced deadline.
	RequestTimeout time.Duration `json:"requestTimeout"`

	// RestartBackoffInitial/RestartBackoffMax override the Registry's
	// default back-off bounds for this backend (SPEC_FULL supplement).
	// Zero means "use the Registry default".
	RestartBackoffInitial time.Duration `json:"restartBackoffInitial"`
	RestartBackoffMax     time.Duration `json:"restartBackoffMax"`

	// LogFilterRegex, if non-empty, drops stderr lines that match before
	// they reach the log sink (SPEC_FULL supplement).
	LogFilterRegex string `json:"logFilterRegex"`
}
