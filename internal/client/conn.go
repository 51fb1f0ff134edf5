// Package client содержит клиентскую сторону протокола реального времени:
// подключение к шлюзу, периодический отчет курьера и применение событий дашбордом.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"delivery-tracking/internal/gateway"

	"github.com/gorilla/websocket"
)

// Sender отправляет кадры на сервер
type Sender interface {
	Send(frameType gateway.FrameType, payload interface{}) (string, error)
}

// Conn представляет клиентское соединение со шлюзом
type Conn struct {
	ws        *websocket.Conn
	writeWait time.Duration

	writeMu sync.Mutex
	seq     atomic.Uint64

	frames chan gateway.Frame
	done   chan struct{}
	err    error
}

// Dial подключается к шлюзу. Токен передается в заголовке Authorization.
func Dial(ctx context.Context, rawURL, token string) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial gateway (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}

	c := &Conn{
		ws:        ws,
		writeWait: 10 * time.Second,
		frames:    make(chan gateway.Frame, 64),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// readLoop читает кадры до разрыва. Ответы на ping отправляет обработчик gorilla по умолчанию.
func (c *Conn) readLoop() {
	defer close(c.frames)
	defer close(c.done)
	for {
		var frame gateway.Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			c.err = err
			return
		}
		select {
		case c.frames <- frame:
		default:
			// читатель отстает: самый старый кадр вытесняется
			select {
			case <-c.frames:
			default:
			}
			c.frames <- frame
		}
	}
}

// Frames возвращает поток входящих кадров. Канал закрывается при разрыве.
func (c *Conn) Frames() <-chan gateway.Frame {
	return c.frames
}

// Done закрывается при разрыве соединения
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err возвращает причину разрыва после закрытия Done
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Send отправляет кадр с новым идентификатором запроса
func (c *Conn) Send(frameType gateway.FrameType, payload interface{}) (string, error) {
	id := fmt.Sprintf("req-%d", c.seq.Add(1))
	frame := gateway.Frame{Type: frameType, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
		frame.Payload = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.ws.WriteJSON(frame); err != nil {
		return "", fmt.Errorf("failed to send %s: %w", frameType, err)
	}
	return id, nil
}

// Close закрывает соединение
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
