package render

import "github.com/xunmengshe2x/Claudable/internal/message"

// Renderer emits messages to an output target.
type Renderer interface {
	Emit(message.Message)
	Close() error
}
