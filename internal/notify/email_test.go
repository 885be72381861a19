package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

func TestNewSendGridSenderWithoutKeyIsNil(t *testing.T) {
	s := NewSendGridSender("", Address{Email: "alerts@ironanchor.ink"}, logging.New("error", "json"))
	assert.Nil(t, s)
}

func TestAddressDefaultsName(t *testing.T) {
	a := Address{Email: "alerts@ironanchor.ink"}.withDefaultName()
	assert.Equal(t, "InkFlow", a.Name)

	a = Address{Email: "alerts@ironanchor.ink", Name: "Iron Anchor"}.withDefaultName()
	assert.Equal(t, "Iron Anchor", a.Name)
}

func TestLogSenderNeverFails(t *testing.T) {
	s := NewLogSender(logging.New("error", "json"))
	err := s.Send(context.Background(), Email{To: "front@ironanchor.ink", Subject: "hi"})
	assert.NoError(t, err)
}
