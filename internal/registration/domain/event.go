package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// Claves fijas de data; los atributos extra nunca las sobreescriben.
const (
	DataUserName     = "user_name"
	DataUserEmail    = "user_email"
	DataCustomerName = "customer_name"
	DataRoleName     = "role_name"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RegistrationEvent es el sobre publicado tras crear el usuario.
// Data conserva el orden: campos fijos primero y después los atributos extra.
type RegistrationEvent struct {
	Type      string
	UserID    uuid.UUID
	Timestamp float64 // segundos desde epoch, con fracción
	Data      Attributes
}

// NewRegistrationEvent construye el evento a partir del registro ya persistido.
// El user_id sale siempre del UserRecord devuelto por el store.
func NewRegistrationEvent(rec *UserRecord, req RegistrationRequest, at time.Time) (RegistrationEvent, error) {
	if rec == nil || rec.ID == uuid.Nil {
		return RegistrationEvent{}, fmt.Errorf("cannot build %s event without a persisted user", UserRegistered)
	}

	data := Attributes{
		{Key: DataUserName, Value: req.UserName()},
		{Key: DataUserEmail, Value: req.UserEmail()},
		{Key: DataCustomerName, Value: req.Customer().Supplied()},
		{Key: DataRoleName, Value: req.Role().Supplied()},
	}
	for _, attr := range req.Extra() {
		if _, taken := data.Get(attr.Key); taken {
			continue
		}
		data = append(data, attr)
	}

	return RegistrationEvent{
		Type:      UserRegistered,
		UserID:    rec.ID,
		Timestamp: EpochSeconds(at),
		Data:      data,
	}, nil
}

// EpochSeconds convierte un instante a segundos fraccionarios desde epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// DedupeKey identifica el evento lógico: event_type + user_id.
func (e RegistrationEvent) DedupeKey() string {
	return DedupeKey(e.Type, e.UserID.String())
}

// PartitionKey ordena por usuario en brokers particionados.
func (e RegistrationEvent) PartitionKey() string {
	return e.UserID.String()
}

func DedupeKey(eventType, userID string) string {
	return eventType + ":" + userID
}

// MarshalJSON escribe el sobre respetando el orden de las claves.
func (e RegistrationEvent) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	stream.WriteObjectField("event_type")
	stream.WriteString(e.Type)
	stream.WriteMore()
	stream.WriteObjectField("user_id")
	stream.WriteString(e.UserID.String())
	stream.WriteMore()
	stream.WriteObjectField("timestamp")
	stream.WriteFloat64(e.Timestamp)
	stream.WriteMore()
	stream.WriteObjectField("data")
	stream.WriteObjectStart()
	for i, attr := range e.Data {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(attr.Key)
		stream.WriteString(attr.Value)
	}
	stream.WriteObjectEnd()
	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// eventWire es la forma decodificable del sobre (el orden de data se pierde).
type eventWire struct {
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id"`
	Timestamp float64           `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

// DecodeRegistrationEvent lee un sobre publicado por este sistema.
// Las claves de data se devuelven con los campos fijos primero y el resto ordenado.
func DecodeRegistrationEvent(payload []byte) (RegistrationEvent, error) {
	var w eventWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return RegistrationEvent{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if w.EventType == "" {
		return RegistrationEvent{}, fmt.Errorf("decode event envelope: missing event_type")
	}
	id, err := uuid.Parse(w.UserID)
	if err != nil {
		return RegistrationEvent{}, fmt.Errorf("decode event envelope: invalid user_id %q: %w", w.UserID, err)
	}

	data := make(Attributes, 0, len(w.Data))
	for _, k := range []string{DataUserName, DataUserEmail, DataCustomerName, DataRoleName} {
		if v, ok := w.Data[k]; ok {
			data = append(data, Attribute{Key: k, Value: v})
			delete(w.Data, k)
		}
	}
	data = append(data, sortedAttributes(w.Data)...)

	return RegistrationEvent{
		Type:      w.EventType,
		UserID:    id,
		Timestamp: w.Timestamp,
		Data:      data,
	}, nil
}
