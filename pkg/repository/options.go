package repository

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ListOptions defines offset pagination for list queries.
type ListOptions struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Normalize clamps the options into the supported range.
func (o ListOptions) Normalize() ListOptions {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	return o
}
