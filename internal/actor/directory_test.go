package actor

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nilesh507/streamit/internal/domain"
	"github.com/nilesh507/streamit/internal/metrics"
)

func TestDirectory_GetReturnsSameActor(t *testing.T) {
	d := NewDirectory(5, metrics.New(prometheus.NewRegistry()))
	t.Cleanup(d.Stop)

	a := d.Get("room1")
	if b := d.Get("room1"); b != a {
		t.Fatalf("second Get returned a different actor")
	}
	if other := d.Get("room2"); other == a {
		t.Fatalf("distinct rooms share an actor")
	}
}

func TestDirectory_StopShutsActorsDown(t *testing.T) {
	d := NewDirectory(5, metrics.New(prometheus.NewRegistry()))

	a := d.Get("room1")
	d.Stop()

	if err := a.Reserve(domain.User{ID: "alice"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Reserve after directory Stop returned %v, want ErrStopped", err)
	}
}
