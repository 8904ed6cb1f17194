package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
)

// NotifyHandler backs notification nodes. Delivery is fire-and-forget: a
// webhook failure is recorded in the output but never fails the node, so a
// dead notification channel cannot stall a workflow.
type NotifyHandler struct {
	Client     *http.Client
	WebhookURL string
	Logger     *log.Logger
}

func (h *NotifyHandler) Execute(ctx context.Context, req Request) Result {
	message := stringInput(req.Inputs, "message")
	if message == "" {
		return failure("notification node %s: message input is required", req.NodeID)
	}
	channel := stringInput(req.Inputs, "channel")
	url := stringInput(req.Inputs, "url")
	if url == "" {
		url = h.WebhookURL
	}

	out := map[string]any{"message": message, "channel": channel}
	if url == "" {
		// No delivery target configured: log locally and move on.
		h.Logger.Printf("[notify] run=%s node=%s channel=%s %s", req.RunID, req.NodeID, channel, message)
		out["delivered"] = false
		return Result{Success: true, Output: out}
	}

	payload, _ := json.Marshal(map[string]string{
		"run_id":  req.RunID,
		"node_id": req.NodeID,
		"channel": channel,
		"message": message,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		out["delivered"] = false
		out["delivery_error"] = err.Error()
		return Result{Success: true, Output: out}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := h.Client.Do(httpReq)
	if err != nil {
		h.Logger.Printf("[notify] run=%s node=%s delivery failed: %v", req.RunID, req.NodeID, err)
		out["delivered"] = false
		out["delivery_error"] = err.Error()
		return Result{Success: true, Output: out}
	}
	resp.Body.Close()
	out["delivered"] = resp.StatusCode < 300
	out["status"] = resp.StatusCode
	return Result{Success: true, Output: out}
}

// SimulatedNotifyHandler records intent without delivering anything.
type SimulatedNotifyHandler struct{}

func (h *SimulatedNotifyHandler) Execute(_ context.Context, req Request) Result {
	message := stringInput(req.Inputs, "message")
	if message == "" {
		return failure("notification node %s: message input is required", req.NodeID)
	}
	return Result{
		Success: true,
		Output: map[string]any{
			"message":   message,
			"channel":   stringInput(req.Inputs, "channel"),
			"delivered": false,
			"simulated": true,
		},
	}
}
