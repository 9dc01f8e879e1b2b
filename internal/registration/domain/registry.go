package domain

import (
	"sort"
	"time"
)

// Tipos de evento emitidos por el pipeline.
const (
	UserRegistered = "user_registered"
)

// Target es el destino del evento en el broker.
type Target struct {
	Stream  string
	Subject string
}

// PublishReceipt sólo existe si el broker confirmó la persistencia del mensaje.
type PublishReceipt struct {
	Stream    string
	Subject   string
	Sequence  uint64 // 0 si el broker no informa secuencia (kafka)
	Duplicate bool   // el broker reconoció el msg-id dentro de su ventana de dedupe
	AckedAt   time.Time
}

func sortedAttributes(m map[string]string) Attributes {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Attributes, 0, len(keys))
	for _, k := range keys {
		out = append(out, Attribute{Key: k, Value: m[k]})
	}
	return out
}
