package domain

// Result is the shape every server action returns to the UI. Business failures
// are reported here, never as transport errors.
type Result struct {
	Success           bool        `json:"success"`
	Message           string      `json:"message,omitempty"`
	User              *PublicUser `json:"user,omitempty"`
	NeedsVerification bool        `json:"needsVerification,omitempty"`
}

func OK(msg string) Result { return Result{Success: true, Message: msg} }

func Fail(msg string) Result { return Result{Success: false, Message: msg} }
