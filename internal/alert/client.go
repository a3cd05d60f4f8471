package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/queue-service/internal/event"
)

// Client отправляет пациенту оповещение "ваша очередь" через внешний
// шлюз сообщений (best-effort, не блокирует мутации очереди).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient возвращает клиент. Если baseURL пустой, NotifyTurn — no-op.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// TurnAlertPayload — тело POST /alerts/turn.
type TurnAlertPayload struct {
	ContactRef   string `json:"contact_ref"`
	TicketNumber string `json:"ticket_number"`
	PatientName  string `json:"patient_name"`
}

// NotifyTurn сообщает внешнему шлюзу, что тикет вышел на позицию 1.
// Ответ не используется, сбой только логируется и никогда не ретраится
// синхронно.
func (c *Client) NotifyTurn(ctx context.Context, contactRef string, turn event.TurnAlert) {
	if c.baseURL == "" || contactRef == "" {
		return
	}
	payload := TurnAlertPayload{
		ContactRef:   contactRef,
		TicketNumber: turn.TicketNumber,
		PatientName:  turn.PatientName,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("alert: marshal: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/alerts/turn", bytes.NewReader(body))
	if err != nil {
		log.Printf("alert: new request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("alert: request: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		log.Printf("alert: status %d for ticket %s", resp.StatusCode, turn.TicketNumber)
	}
}
