package capability

// Context is the per-call bundle of capability surfaces bound to one
// adapter. It is built fresh for every tool call and never persisted.
type Context struct {
	Page    *Page
	Storage *Storage
	Notify  *Notifier
	Utils   Utils

	AdapterID string
}
