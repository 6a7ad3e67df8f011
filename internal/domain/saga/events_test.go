package saga

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	userID := uuid.New()

	t.Run("正常なStartイベントをデコードできる", func(t *testing.T) {
		payload := []byte(`{"sagaId":"saga-1","userId":"` + userID.String() + `","novelId":42,"timestamp":"2026-08-01T00:00:00Z"}`)

		var event StartEvent
		require.NoError(t, Decode(payload, &event))
		assert.Equal(t, "saga-1", event.SagaID)
		assert.Equal(t, userID, event.UserID)
		assert.Equal(t, 42, event.NovelID)
	})

	t.Run("二重エンコードされたペイロードもデコードできる", func(t *testing.T) {
		// 一部のプロデューサーはJSON文字列として再エンコードして送ってくる
		payload := []byte(`"{\"sagaId\":\"saga-1\",\"userId\":\"` + userID.String() + `\",\"novelId\":42}"`)

		var event StartEvent
		require.NoError(t, Decode(payload, &event))
		assert.Equal(t, "saga-1", event.SagaID)
	})

	t.Run("必須フィールド欠落はErrMalformedEvent", func(t *testing.T) {
		var event StartEvent
		err := Decode([]byte(`{"novelId":42}`), &event)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("JSONとして不正ならErrMalformedEvent", func(t *testing.T) {
		var event StartEvent
		err := Decode([]byte(`not-json`), &event)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("VoteCreatedイベントはreservationIdが必須", func(t *testing.T) {
		payload := []byte(`{"sagaId":"saga-1","userId":"` + userID.String() + `","novelId":42}`)

		var event VoteCreatedEvent
		err := Decode(payload, &event)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := &YuanReservedEvent{
		SagaID:        "saga-1",
		UserID:        uuid.New(),
		NovelID:       42,
		ReservationID: uuid.New(),
		Timestamp:     time.Now().UTC().Truncate(time.Second),
	}

	payload, err := Encode(original)
	require.NoError(t, err)

	var decoded YuanReservedEvent
	require.NoError(t, Decode(payload, &decoded))
	assert.Equal(t, original.SagaID, decoded.SagaID)
	assert.Equal(t, original.ReservationID, decoded.ReservationID)
}

func TestExtractSagaID(t *testing.T) {
	t.Run("不完全なペイロードからsagaIdを取り出せる", func(t *testing.T) {
		sagaID, ok := ExtractSagaID([]byte(`{"sagaId":"saga-1","unexpected":true}`))
		require.True(t, ok)
		assert.Equal(t, "saga-1", sagaID)
	})

	t.Run("二重エンコードされたペイロードからも取り出せる", func(t *testing.T) {
		sagaID, ok := ExtractSagaID([]byte(`"{\"sagaId\":\"saga-2\"}"`))
		require.True(t, ok)
		assert.Equal(t, "saga-2", sagaID)
	})

	t.Run("sagaIdがなければ失敗する", func(t *testing.T) {
		_, ok := ExtractSagaID([]byte(`{"userId":"abc"}`))
		assert.False(t, ok)
	})

	t.Run("不正なJSONは失敗する", func(t *testing.T) {
		_, ok := ExtractSagaID([]byte(`garbage`))
		assert.False(t, ok)
	})
}
