package client

import (
	"context"
	"math/rand"
	"time"

	"delivery-tracking/internal/gateway"
	"delivery-tracking/internal/logger"
)

// PositionSource возвращает текущую позицию устройства
type PositionSource interface {
	Position() (lat, lng float64)
}

// Reporter периодически отправляет позицию курьера.
// Интервал равен Period плюс случайная задержка до Jitter.
type Reporter struct {
	sender Sender
	source PositionSource
	period time.Duration
	jitter time.Duration
	log    *logger.Logger
	rnd    *rand.Rand
}

// NewReporter создает репортер
func NewReporter(sender Sender, source PositionSource, period, jitter time.Duration, log *logger.Logger) *Reporter {
	return &Reporter{
		sender: sender,
		source: source,
		period: period,
		jitter: jitter,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *Reporter) next() time.Duration {
	d := r.period
	if r.jitter > 0 {
		d += time.Duration(r.rnd.Int63n(int64(r.jitter)))
	}
	return d
}

// Run отправляет позицию сразу и затем по таймеру до отмены ctx, закрытия disconnected
// или ошибки отправки. disconnected может быть nil.
func (r *Reporter) Run(ctx context.Context, disconnected <-chan struct{}) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-disconnected:
			return nil
		case <-timer.C:
			lat, lng := r.source.Position()
			if _, err := r.sender.Send(gateway.FrameReportLocation, gateway.ReportLocationPayload{
				Lat:       lat,
				Lng:       lng,
				Timestamp: time.Now().UTC(),
			}); err != nil {
				r.log.WithError(err).Warn("Location report failed, stopping reporter")
				return err
			}
			timer.Reset(r.next())
		}
	}
}

// RandomWalk имитирует движение курьера вокруг стартовой точки
type RandomWalk struct {
	lat, lng float64
	step     float64
	rnd      *rand.Rand
}

// NewRandomWalk создает источник позиции со случайным блужданием
func NewRandomWalk(lat, lng, step float64, seed int64) *RandomWalk {
	return &RandomWalk{lat: lat, lng: lng, step: step, rnd: rand.New(rand.NewSource(seed))}
}

// Position сдвигает точку на случайный шаг и возвращает ее
func (w *RandomWalk) Position() (float64, float64) {
	w.lat = clamp(w.lat+(w.rnd.Float64()*2-1)*w.step, -90, 90)
	w.lng = clamp(w.lng+(w.rnd.Float64()*2-1)*w.step, -180, 180)
	return w.lat, w.lng
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
