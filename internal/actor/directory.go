package actor

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/domain"
	"github.com/nilesh507/streamit/internal/metrics"
)

// Directory maps room ids to their actors, creating them lazily. An actor
// stays resident once created; it remains addressable the way the shared
// registry keeps a room resolvable.
type Directory struct {
	capacity int
	metrics  *metrics.Metrics

	mu     sync.Mutex
	actors map[domain.RoomID]*RoomActor
}

func NewDirectory(capacity int, m *metrics.Metrics) *Directory {
	return &Directory{
		capacity: capacity,
		metrics:  m,
		actors:   make(map[domain.RoomID]*RoomActor),
	}
}

func (d *Directory) Get(id domain.RoomID) *RoomActor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.actors[id]; ok {
		return a
	}
	a := NewRoomActor(id, d.capacity, d.metrics)
	d.actors[id] = a
	d.metrics.Rooms.Set(float64(len(d.actors)))
	log.Info().Str("module", "actor").Str("room", string(id)).Msg("room actor created")
	return a
}

// Stop shuts every actor down, for process shutdown.
func (d *Directory) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.actors {
		a.Stop()
	}
	d.actors = make(map[domain.RoomID]*RoomActor)
	d.metrics.Rooms.Set(0)
}
