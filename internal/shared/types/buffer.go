package types

// SaveStatus is the user-visible progress of the last save.
type SaveStatus string

const (
	SaveIdle    SaveStatus = "idle"
	SaveSaving  SaveStatus = "saving"
	SaveSaved   SaveStatus = "saved"
	SaveUnsaved SaveStatus = "unsaved"
	SaveError   SaveStatus = "error"
)

// BufferState is a buffer's lifecycle state.
type BufferState string

const (
	BufferOpening BufferState = "opening"
	BufferOpen    BufferState = "open"
	BufferClosing BufferState = "closing"
	BufferClosed  BufferState = "closed"
)
