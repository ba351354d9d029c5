package chat

import "strings"

// ResourceSeparator splits the account part of an identity from its
// connection-specific resource, as in "alice@telegram/123456".
const ResourceSeparator = "/"

// Identity is a chat participant address. The full form may carry a
// resource suffix naming one client connection; the normalized form is the
// bare account and is what sessions and saved credentials are keyed by.
type Identity string

// Normalize returns the bare account portion of the identity.
// Normalize is idempotent: id.Normalize().Normalize() == id.Normalize().
func (id Identity) Normalize() Identity {
	if i := strings.Index(string(id), ResourceSeparator); i >= 0 {
		return id[:i]
	}
	return id
}

// Domain returns the part after '@' of the bare account, used to route
// outbound messages to the transport that owns the identity.
func (id Identity) Domain() string {
	bare := string(id.Normalize())
	if i := strings.LastIndex(bare, "@"); i >= 0 {
		return bare[i+1:]
	}
	return ""
}

// Local returns the part before '@' of the bare account.
func (id Identity) Local() string {
	bare := string(id.Normalize())
	if i := strings.LastIndex(bare, "@"); i >= 0 {
		return bare[:i]
	}
	return bare
}

// Resource returns the suffix after the first separator, or "".
func (id Identity) Resource() string {
	if i := strings.Index(string(id), ResourceSeparator); i >= 0 {
		return string(id[i+len(ResourceSeparator):])
	}
	return ""
}

func (id Identity) String() string { return string(id) }

// NewIdentity builds "local@domain[/resource]".
func NewIdentity(local, domain, resource string) Identity {
	id := local + "@" + domain
	if resource != "" {
		id += ResourceSeparator + resource
	}
	return Identity(id)
}
