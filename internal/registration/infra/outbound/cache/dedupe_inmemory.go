package cache

import (
	"context"
	"sync"
	"time"
)

// InMemoryDeduper implementa el dedupe con un mapa en memoria y expiración.
type InMemoryDeduper struct {
	claims   map[string]time.Time // clave -> expiración
	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewInMemoryDeduper arranca la limpieza periódica de claves expiradas.
// Llamar a Stop al terminar.
func NewInMemoryDeduper(cleanupInterval time.Duration) *InMemoryDeduper {
	d := &InMemoryDeduper{
		claims:   make(map[string]time.Time),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
	go d.cleanupLoop(cleanupInterval)
	return d
}

func (d *InMemoryDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	if exp, ok := d.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.claims[key] = now.Add(ttl)
	return true, nil
}

func (d *InMemoryDeduper) Release(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, key)
	return nil
}

// Len devuelve el número de claves vivas o pendientes de limpieza.
func (d *InMemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.claims)
}

// Stop detiene la goroutine de limpieza.
func (d *InMemoryDeduper) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
}

func (d *InMemoryDeduper) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mu.Lock()
			now := d.now().UTC()
			for key, exp := range d.claims {
				if !now.Before(exp) {
					delete(d.claims, key)
				}
			}
			d.mu.Unlock()
		case <-d.stopChan:
			return
		}
	}
}
