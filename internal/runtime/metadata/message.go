package metadata

import "github.com/ThreeDotsLabs/watermill/message"

var bridgeKeys = [...]string{KeyCorrelationID, KeyTenantID, KeyMessageKind, KeyCommandName}

// Apply sets every entry of m as a header on msg, replacing existing values.
func (m Metadata) Apply(msg *message.Message) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, len(m))
	}
	for k, v := range m {
		msg.Metadata.Set(k, v)
	}
}

// FromMessage collects the bridge headers present on msg. Transport headers
// such as the partition hint are left out.
func FromMessage(msg *message.Message) Metadata {
	md := Metadata{}
	if msg == nil {
		return md
	}
	for _, key := range bridgeKeys {
		if v := msg.Metadata.Get(key); v != "" {
			md[key] = v
		}
	}
	return md
}

func (m Metadata) Kind() string        { return m[KeyMessageKind] }
func (m Metadata) CommandName() string { return m[KeyCommandName] }
