// Package notify alerts studio staff when a conversation needs a human:
// a booking the assistant could not complete, a cancel request against a
// confirmed appointment, or a deposit landing for a lead in the funnel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/inkflow-ai/studio-platform/internal/leadstate"
	"github.com/inkflow-ai/studio-platform/pkg/logging"
)

// Config holds the staff-facing notification settings for a studio.
type Config struct {
	StudioName string
	Recipients []string
}

// Service sends operator notifications over email.
type Service struct {
	email  EmailSender
	cfg    Config
	logger *logging.Logger
}

// NewService creates a notification service. A nil email sender or empty
// recipient list yields a service that silently drops every alert.
func NewService(email EmailSender, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.StudioName == "" {
		cfg.StudioName = "InkFlow"
	}
	return &Service{email: email, cfg: cfg, logger: logger}
}

// BookingFlagged tells staff a conversation needs hands-on follow-up.
func (s *Service) BookingFlagged(ctx context.Context, contactID, reason string, state leadstate.CanonicalState) error {
	if s == nil {
		return nil
	}
	subject := fmt.Sprintf("Needs a human: %s", contactID)
	body := fmt.Sprintf(`A conversation needs follow-up.

Contact: %s
Reason: %s%s

The lead has been told the team will sort it out, so please reach out today.

%s assistant`, contactID, reason, leadSummary(state), s.cfg.StudioName)
	return s.fanOut(ctx, subject, body)
}

// DepositReceived tells staff a lead just paid their deposit.
func (s *Service) DepositReceived(ctx context.Context, contactID string, state leadstate.CanonicalState, amountCents int32, paymentID string) error {
	if s == nil {
		return nil
	}
	subject := fmt.Sprintf("Deposit received: %s", contactID)
	body := fmt.Sprintf(`A deposit just came in.

Contact: %s
Amount: $%.2f
Payment ID: %s%s

%s assistant`, contactID, float64(amountCents)/100, paymentID, leadSummary(state), s.cfg.StudioName)
	return s.fanOut(ctx, subject, body)
}

func (s *Service) fanOut(ctx context.Context, subject, body string) error {
	if s.email == nil || len(s.cfg.Recipients) == 0 {
		s.logger.Debug("notify: no email sender or recipients configured, dropping alert", "subject", subject)
		return nil
	}
	var errs []error
	for _, to := range s.cfg.Recipients {
		if err := s.email.Send(ctx, Email{To: to, Subject: subject, Text: body}); err != nil {
			s.logger.Error("notify: send failed", "to", to, "subject", subject, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func leadSummary(state leadstate.CanonicalState) string {
	var b strings.Builder
	if state.Summary != "" {
		fmt.Fprintf(&b, "\nTattoo: %s", state.Summary)
	}
	if state.Placement != "" {
		fmt.Fprintf(&b, "\nPlacement: %s", state.Placement)
	}
	if state.ArtistPref != "" {
		fmt.Fprintf(&b, "\nArtist preference: %s", state.ArtistPref)
	}
	if state.ConsultType != "" {
		fmt.Fprintf(&b, "\nConsult type: %s", state.ConsultType)
	}
	if state.LanguagePref != "" {
		fmt.Fprintf(&b, "\nLanguage: %s", state.LanguagePref)
	}
	if state.HoldAppointmentID != "" {
		fmt.Fprintf(&b, "\nHeld appointment: %s", state.HoldAppointmentID)
	}
	if state.BookedAppointmentID != "" {
		fmt.Fprintf(&b, "\nBooked appointment: %s", state.BookedAppointmentID)
	}
	return b.String()
}
