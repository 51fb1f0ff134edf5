package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"delivery-tracking/internal/config"
	"delivery-tracking/internal/hub"
	"delivery-tracking/internal/logger"
	"delivery-tracking/internal/models"
	"delivery-tracking/internal/services"
	"delivery-tracking/internal/store"

	"github.com/gorilla/websocket"
)

// Authenticator связывает запрос на подключение с участником
type Authenticator interface {
	Authenticate(r *http.Request) (models.Actor, error)
}

// Gateway принимает постоянные соединения курьеров и дашбордов
type Gateway struct {
	cfg      config.GatewayConfig
	auth     Authenticator
	registry *Registry
	hub      *hub.Hub
	store    *store.Store
	location *services.LocationService
	dispatch *services.DispatchService
	log      *logger.Logger

	upgrader websocket.Upgrader
	handlers map[FrameType]frameHandler

	closing   chan struct{}
	closeOnce sync.Once
	conns     sync.WaitGroup
}

// New создает шлюз
func New(
	cfg *config.GatewayConfig,
	auth Authenticator,
	h *hub.Hub,
	st *store.Store,
	location *services.LocationService,
	dispatch *services.DispatchService,
	log *logger.Logger,
) *Gateway {
	g := &Gateway{
		cfg:      *cfg,
		auth:     auth,
		registry: NewRegistry(),
		hub:      h,
		store:    st,
		location: location,
		dispatch: dispatch,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// дашборды открываются с других origin, доступ проверяется токеном
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
	g.handlers = g.dispatchTable()
	return g
}

// Registry возвращает реестр живых сессий
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// ServeHTTP аутентифицирует запрос и переводит соединение на WebSocket
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, err := g.auth.Authenticate(r)
	if err != nil {
		g.log.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("Rejected realtime connection")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже записал ответ клиенту
		g.log.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	g.Serve(context.Background(), NewWSChannel(conn, &g.cfg), actor)
}

// Shutdown закрывает все соединения и ждет завершения их обработки
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.closeOnce.Do(func() { close(g.closing) })

	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve обслуживает одно соединение до разрыва, отмены ctx или остановки шлюза.
// Состояние курьера при отключении не меняется.
func (g *Gateway) Serve(ctx context.Context, ch Channel, actor models.Actor) {
	g.conns.Add(1)
	defer g.conns.Done()

	sess := g.registry.Register(actor)
	log := g.log.WithField("connection_id", sess.ID()).WithField("role", sess.Role)
	if sess.Role == SessionRoleCourier {
		log = log.WithField("agent_id", sess.AgentID)
	}
	log.Info("Realtime session opened")

	var sub *hub.Subscriber
	if sess.Role == SessionRoleDashboard {
		sub = g.hub.Subscribe(sess.ID())
	}

	if lc, ok := ch.(LivenessChannel); ok {
		lc.OnPong(sess.Touch)
	}

	ctx, cancel := context.WithCancel(ctx)

	// ReadFrame не видит ctx: закрытие канала разблокирует читателя
	go func() {
		select {
		case <-ctx.Done():
		case <-g.closing:
			cancel()
		}
		ch.Close()
	}()

	replies := make(chan Frame, g.cfg.ReplyBuffer)
	writerDone := make(chan error, 1)
	go func() {
		err := g.writeLoop(ctx, ch, sub, replies)
		cancel()
		writerDone <- err
	}()

	readErr := g.readLoop(ctx, ch, sess, replies)
	cancel()
	writeErr := <-writerDone

	if sub != nil {
		g.hub.Unsubscribe(sess.ID())
	}
	g.registry.Remove(sess.ConnectionID)

	entry := log.WithField("duration", time.Since(sess.ConnectedAt).String())
	if sub != nil {
		entry = entry.WithField("dropped_events", sub.Dropped())
	}
	if err := firstError(readErr, writeErr); err != nil {
		entry = entry.WithError(err)
	}
	entry.Info("Realtime session closed")
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) && !isNormalClose(err) {
			return err
		}
	}
	return nil
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// readLoop читает кадры и ставит ответы в очередь писателя
func (g *Gateway) readLoop(ctx context.Context, ch Channel, sess *Session, replies chan<- Frame) error {
	for {
		frame, err := ch.ReadFrame()
		if err != nil {
			if !errors.Is(err, ErrMalformedFrame) {
				return err
			}
			sess.Touch()
			if !g.reply(ctx, replies, errorFrame("", models.ErrorCode(models.ErrInvalidArgument), err.Error())) {
				return ctx.Err()
			}
			continue
		}
		sess.Touch()

		if !g.reply(ctx, replies, g.handle(sess, frame)) {
			return ctx.Err()
		}
	}
}

func (g *Gateway) reply(ctx context.Context, replies chan<- Frame, frame Frame) bool {
	select {
	case replies <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeLoop единственный писатель канала: ответы, события хаба и ping
func (g *Gateway) writeLoop(ctx context.Context, ch Channel, sub *hub.Subscriber, replies <-chan Frame) error {
	var ready, unsubscribed <-chan struct{}
	if sub != nil {
		ready = sub.Ready()
		unsubscribed = sub.Done()
	}

	var ping <-chan time.Time
	pinger, canPing := ch.(LivenessChannel)
	if canPing && g.cfg.PingInterval > 0 {
		ticker := time.NewTicker(g.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-unsubscribed:
			return nil
		case frame := <-replies:
			if err := ch.WriteFrame(frame); err != nil {
				return err
			}
		case <-ready:
			for _, event := range sub.Drain() {
				if err := ch.WriteFrame(eventFrame(event)); err != nil {
					return err
				}
			}
		case <-ping:
			if err := pinger.Ping(); err != nil {
				return err
			}
		}
	}
}
