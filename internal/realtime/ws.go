package realtime

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// wsHandle оборачивает websocket-соединение в Handle. Gorilla не
// разрешает конкурентные записи в один conn, поэтому Send под мьютексом.
type wsHandle struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (h *wsHandle) Send(ctx context.Context, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(2 * time.Second)
	}
	h.conn.SetWriteDeadline(deadline)
	return h.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *wsHandle) Close() error {
	return h.conn.Close()
}

// Gateway поднимает входящие websocket-запросы и регистрирует их в
// реестре. Горутина запроса живёт как read-pump: входящие сообщения
// игнорируются, разрыв соединения снимает подписку.
type Gateway struct {
	registry *Registry
	upgrader websocket.Upgrader
}

func NewGateway(registry *Registry) *Gateway {
	return &Gateway{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Авторизацией origin занимается внешний слой.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeQueue — GET /ws/queue/:id, канал целого сервиса.
func (g *Gateway) ServeQueue(c *gin.Context) {
	serviceID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid service id"})
		return
	}
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h := &wsHandle{conn: conn}
	g.registry.SubscribeService(serviceID, h)
	defer g.registry.UnsubscribeService(serviceID, h)
	readPump(conn)
}

// ServeTicket — GET /ws/ticket/:number, персональный канал пациента.
func (g *Gateway) ServeTicket(c *gin.Context) {
	number := c.Param("number")
	if number == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket number"})
		return
	}
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h := &wsHandle{conn: conn}
	g.registry.SubscribeTicket(number, h)
	defer g.registry.UnsubscribeTicket(number, h)
	readPump(conn)
}

// ServeAdmin — GET /ws/admin, кросс-сервисный пул дашбордов.
func (g *Gateway) ServeAdmin(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h := &wsHandle{conn: conn}
	g.registry.SubscribeAdmin(h)
	defer g.registry.UnsubscribeAdmin(h)
	readPump(conn)
}

func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}
