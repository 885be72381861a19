package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkflow-ai/studio-platform/internal/leadstate"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

type captureSender struct {
	sent []Email
	err  error
}

func (c *captureSender) Send(_ context.Context, msg Email) error {
	c.sent = append(c.sent, msg)
	return c.err
}

func TestBookingFlaggedFansOutToAllRecipients(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(sender, Config{
		StudioName: "Iron Anchor",
		Recipients: []string{"front@ironanchor.ink", "owner@ironanchor.ink"},
	}, logging.New("error", "json"))

	state := leadstate.CanonicalState{
		Summary:    "koi sleeve",
		Placement:  "left forearm",
		ArtistPref: "Mara",
	}
	err := svc.BookingFlagged(context.Background(), "contact-9", "booking failed: calendar unreachable", state)
	require.NoError(t, err)

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "front@ironanchor.ink", sender.sent[0].To)
	assert.Equal(t, "Needs a human: contact-9", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Text, "calendar unreachable")
	assert.Contains(t, sender.sent[0].Text, "koi sleeve")
	assert.Contains(t, sender.sent[0].Text, "Iron Anchor assistant")
}

func TestDepositReceivedFormatsAmount(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(sender, Config{Recipients: []string{"desk@studio.ink"}}, logging.New("error", "json"))

	err := svc.DepositReceived(context.Background(), "contact-3", leadstate.CanonicalState{}, 15000, "pay_abc")
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Deposit received: contact-3", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Text, "$150.00")
	assert.Contains(t, sender.sent[0].Text, "pay_abc")
}

func TestNoRecipientsDropsAlertWithoutError(t *testing.T) {
	sender := &captureSender{}
	svc := NewService(sender, Config{}, logging.New("error", "json"))

	err := svc.BookingFlagged(context.Background(), "contact-1", "anything", leadstate.CanonicalState{})
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestSendFailureSurfacesError(t *testing.T) {
	sender := &captureSender{err: errors.New("smtp down")}
	svc := NewService(sender, Config{Recipients: []string{"a@b.c"}}, logging.New("error", "json"))

	err := svc.DepositReceived(context.Background(), "contact-2", leadstate.CanonicalState{}, 10000, "")
	require.Error(t, err)
}
