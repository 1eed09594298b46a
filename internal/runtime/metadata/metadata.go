package metadata

// Header keys stamped on every bridged message. They duplicate fields of the
// payload so middleware can log and trace without decoding the body.
const (
	KeyCorrelationID = "correlation_id"
	KeyTenantID      = "tenant_id"
	KeyMessageKind   = "replybridge_kind"
	KeyCommandName   = "replybridge_command"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
// Empty values are skipped.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

func (m Metadata) CorrelationID() string { return m[KeyCorrelationID] }
func (m Metadata) TenantID() string      { return m[KeyTenantID] }

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
