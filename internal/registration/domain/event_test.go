package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(t *testing.T, extra Attributes) RegistrationRequest {
	t.Helper()
	req, err := NewRegistrationRequest("John Smith", "john@x.com",
		ByName("TechCorp"), ByName("customer_account_owner"), extra)
	require.NoError(t, err)
	return req
}

func TestNewRegistrationEvent_Envelope(t *testing.T) {
	req := newTestRequest(t, Attributes{
		{Key: "department", Value: "sales"},
		{Key: "cost_center", Value: "42"},
	})
	rec := &UserRecord{ID: uuid.MustParse("0b5f3c56-8a55-4a3f-9a43-6f6f7c0b6a11"), Email: "john@x.com"}

	evt, err := NewRegistrationEvent(rec, req, time.Unix(1700000000, 500000000))
	require.NoError(t, err)

	payload, err := evt.MarshalJSON()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"event_type": "user_registered",
		"user_id": "0b5f3c56-8a55-4a3f-9a43-6f6f7c0b6a11",
		"timestamp": 1700000000.5,
		"data": {
			"user_name": "John Smith",
			"user_email": "john@x.com",
			"customer_name": "TechCorp",
			"role_name": "customer_account_owner",
			"department": "sales",
			"cost_center": "42"
		}
	}`, string(payload))

	// el orden de las claves se mantiene
	s := string(payload)
	assert.Less(t, strings.Index(s, `"event_type"`), strings.Index(s, `"user_id"`))
	assert.Less(t, strings.Index(s, `"role_name"`), strings.Index(s, `"department"`))
	assert.Less(t, strings.Index(s, `"department"`), strings.Index(s, `"cost_center"`))
}

func TestNewRegistrationEvent_IDSuppliedAsIs(t *testing.T) {
	customer, err := ParseID("  0B5F3C56-8A55-4A3F-9A43-6F6F7C0B6A11 ")
	require.NoError(t, err)

	req, err := NewRegistrationRequest("Ana", "ana@x.com", customer, ByName("viewer"), nil)
	require.NoError(t, err)

	evt, err := NewRegistrationEvent(&UserRecord{ID: uuid.New()}, req, time.Now())
	require.NoError(t, err)

	v, ok := evt.Data.Get(DataCustomerName)
	assert.True(t, ok)
	assert.Equal(t, "0B5F3C56-8A55-4A3F-9A43-6F6F7C0B6A11", v)
}

func TestNewRegistrationEvent_ExtraCannotOverrideCoreFields(t *testing.T) {
	req := newTestRequest(t, Attributes{{Key: DataUserEmail, Value: "spoof@x.com"}})

	evt, err := NewRegistrationEvent(&UserRecord{ID: uuid.New()}, req, time.Now())
	require.NoError(t, err)

	v, _ := evt.Data.Get(DataUserEmail)
	assert.Equal(t, "john@x.com", v)
	assert.Len(t, evt.Data, 4)
}

func TestNewRegistrationEvent_RequiresPersistedUser(t *testing.T) {
	req := newTestRequest(t, nil)

	_, err := NewRegistrationEvent(nil, req, time.Now())
	assert.Error(t, err)

	_, err = NewRegistrationEvent(&UserRecord{}, req, time.Now())
	assert.Error(t, err)
}

func TestDecodeRegistrationEvent(t *testing.T) {
	req := newTestRequest(t, Attributes{{Key: "zeta", Value: "1"}, {Key: "alpha", Value: "2"}})
	evt, err := NewRegistrationEvent(&UserRecord{ID: uuid.New()}, req, time.Unix(1700000000, 0))
	require.NoError(t, err)
	payload, err := evt.MarshalJSON()
	require.NoError(t, err)

	got, err := DecodeRegistrationEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, evt.UserID, got.UserID)
	assert.Equal(t, evt.DedupeKey(), got.DedupeKey())
	assert.InDelta(t, evt.Timestamp, got.Timestamp, 1e-6)
	// los campos fijos primero, el resto ordenado por clave
	assert.Equal(t, "alpha", got.Data[4].Key)
	assert.Equal(t, "zeta", got.Data[5].Key)

	_, err = DecodeRegistrationEvent([]byte(`{"event_type":"user_registered","user_id":"nope"}`))
	assert.Error(t, err)
	_, err = DecodeRegistrationEvent([]byte(`not json`))
	assert.Error(t, err)
}
