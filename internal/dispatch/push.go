package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

// PushDispatcher delivers events to users without a live websocket session
// by posting them to an external push provider endpoint.
type PushDispatcher struct {
	Endpoint string
	Client   *http.Client
}

func NewPushDispatcher(endpoint string) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *PushDispatcher) Notify(userID string, ev models.Event) error {
	b, err := json.Marshal(map[string]any{
		"user_id": userID,
		"type":    ev.Type,
		"data":    ev.Data,
	})
	if err != nil {
		return err
	}
	resp, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
	if err != nil {
		return faults.Upstream(err, "push post failed")
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return faults.Upstreamf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
