package gateway

// Router resolves a gateway name to its registered adapter. Billing logic
// only ever talks to gateways through this interface, so new providers are
// added by registering an adapter, never by branching in core code.
type Router interface {
	Adapter(name string) (Adapter, error)
	Names() []string
}
