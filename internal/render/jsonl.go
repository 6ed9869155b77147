package render

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/xunmengshe2x/Claudable/internal/message"
)

// JSONLRenderer writes one JSON object per message.
type JSONLRenderer struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

// NewJSONLRenderer creates a JSON-lines renderer.
func NewJSONLRenderer(w io.Writer) *JSONLRenderer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLRenderer{enc: enc}
}

func (r *JSONLRenderer) Emit(msg message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = r.enc.Encode(msg)
}

// Close reports the first write error, if any.
func (r *JSONLRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
