package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"delivery-tracking/internal/config"

	"github.com/gorilla/websocket"
)

// Channel представляет двунаправленный канал кадров с одним клиентом.
// ReadFrame вызывается только из одной горутины, WriteFrame тоже.
type Channel interface {
	ReadFrame() (Frame, error)
	WriteFrame(frame Frame) error
	Close() error
}

// LivenessChannel поддерживает проверку живости ping/pong
type LivenessChannel interface {
	Channel
	Ping() error
	OnPong(fn func())
}

// WSChannel реализует Channel поверх gorilla/websocket
type WSChannel struct {
	conn      *websocket.Conn
	pongWait  time.Duration
	writeWait time.Duration

	mu     sync.Mutex
	onPong func()

	closeOnce sync.Once
	closeErr  error
}

// NewWSChannel настраивает соединение: лимит размера, дедлайн чтения и обработчик pong
func NewWSChannel(conn *websocket.Conn, cfg *config.GatewayConfig) *WSChannel {
	ch := &WSChannel{
		conn:      conn,
		pongWait:  cfg.PongWait,
		writeWait: cfg.WriteWait,
	}

	conn.SetReadLimit(cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(ch.pongWait))
	conn.SetPongHandler(func(string) error {
		ch.mu.Lock()
		fn := ch.onPong
		ch.mu.Unlock()
		if fn != nil {
			fn()
		}
		return conn.SetReadDeadline(time.Now().Add(ch.pongWait))
	})
	return ch
}

// OnPong задает функцию, вызываемую при каждом pong
func (c *WSChannel) OnPong(fn func()) {
	c.mu.Lock()
	c.onPong = fn
	c.mu.Unlock()
}

// ReadFrame читает следующий кадр. Ошибка разбора оборачивает ErrMalformedFrame.
func (c *WSChannel) ReadFrame() (Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("%v: %w", err, ErrMalformedFrame)
	}
	if frame.Type == "" {
		return Frame{}, fmt.Errorf("missing type: %w", ErrMalformedFrame)
	}
	return frame, nil
}

// WriteFrame отправляет кадр с дедлайном записи
func (c *WSChannel) WriteFrame(frame Frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteJSON(frame)
}

// Ping отправляет управляющий кадр ping
func (c *WSChannel) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close закрывает соединение. Повторные вызовы безопасны.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
