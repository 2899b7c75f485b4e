package config

const redacted = "[REDACTED]"

// Secret holds a credential loaded from configuration. It redacts itself
// when printed or serialized; use Value to read it.
type Secret string

func (s Secret) String() string               { return redacted }
func (s Secret) GoString() string             { return redacted }
func (s Secret) Value() string                { return string(s) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }
