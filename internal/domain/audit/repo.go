package audit

import "context"

// Recorder appends audit entries. Pure append; there is no read path.
type Recorder interface {
	Append(ctx context.Context, e *Entry) error
}
