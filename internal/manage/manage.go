// Package manage implements the operator-facing lifecycle operations:
// mute, resolve, retriage, reinvestigate, details, and listing.
package manage

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tracehound/tracehound/internal/interfaces"
	"github.com/tracehound/tracehound/internal/models"
)

const (
	detailEvents  = 5
	detailRelated = 5
)

// investigator runs an immediate investigation. Satisfied by
// investigate.Investigator.
type investigator interface {
	Investigate(ctx context.Context, sig *models.Signature) (*models.Diagnosis, error)
}

// Service implements the manager port.
type Service struct {
	store        interfaces.SignatureStore
	telemetry    interfaces.Telemetry
	investigator investigator
}

// New wires a management service. telemetry may be nil; details then omit
// recent events.
func New(store interfaces.SignatureStore, telemetry interfaces.Telemetry, inv investigator) *Service {
	return &Service{store: store, telemetry: telemetry, investigator: inv}
}

// Mute suppresses a signature from investigation and notification.
// Muting an already muted signature is a no-op.
func (s *Service) Mute(ctx context.Context, id, reason string) (*models.Signature, error) {
	sig, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sig.Status == models.StatusMuted {
		return sig, nil
	}

	prev := sig.Status
	sig.Status = models.StatusMuted
	if err := s.store.Update(ctx, sig); err != nil {
		return nil, err
	}

	log.Info().
		Str("signature_id", id).
		Str("previous_status", string(prev)).
		Str("reason", reason).
		Msg("Signature muted")
	return sig, nil
}

// Resolve marks a signature fixed. Resolving an already resolved
// signature is a no-op.
func (s *Service) Resolve(ctx context.Context, id, fix string) (*models.Signature, error) {
	sig, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sig.Status == models.StatusResolved {
		return sig, nil
	}

	prev := sig.Status
	sig.Status = models.StatusResolved
	if err := s.store.Update(ctx, sig); err != nil {
		return nil, err
	}

	log.Info().
		Str("signature_id", id).
		Str("previous_status", string(prev)).
		Str("fix", fix).
		Msg("Signature resolved")
	return sig, nil
}

// Retriage puts a signature back in the investigation queue, discarding
// any prior diagnosis so neither the cooldown nor stale conclusions
// shield it.
func (s *Service) Retriage(ctx context.Context, id string) (*models.Signature, error) {
	sig, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	prev := sig.Status
	sig.Status = models.StatusNew
	sig.Diagnosis = nil
	if err := s.store.Update(ctx, sig); err != nil {
		return nil, err
	}

	log.Info().
		Str("signature_id", id).
		Str("previous_status", string(prev)).
		Msg("Signature retriaged")
	return sig, nil
}

// Reinvestigate discards any prior diagnosis and runs the investigation
// workflow immediately, bypassing the queue and its triage gates.
func (s *Service) Reinvestigate(ctx context.Context, id string) (*models.Diagnosis, error) {
	sig, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	sig.Status = models.StatusNew
	sig.Diagnosis = nil
	if err := s.store.Update(ctx, sig); err != nil {
		return nil, err
	}

	log.Info().Str("signature_id", id).Msg("Manual reinvestigation requested")
	return s.investigator.Investigate(ctx, sig)
}

// GetSignatureDetails returns the signature with recent occurrences and
// related signatures attached. Telemetry failures degrade to an empty
// event list.
func (s *Service) GetSignatureDetails(ctx context.Context, id string) (*models.SignatureDetails, error) {
	sig, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &models.SignatureDetails{
		Signature: sig,
		Diagnosis: sig.Diagnosis,
	}

	if s.telemetry != nil {
		events, err := s.telemetry.GetEventsForSignature(ctx, sig.Fingerprint, detailEvents)
		if err != nil {
			log.Warn().Err(err).Str("signature_id", id).Msg("Recent event lookup failed")
		} else {
			details.RecentEvents = events
		}
	}

	related, err := s.store.GetSimilar(ctx, sig, detailRelated)
	if err != nil {
		log.Warn().Err(err).Str("signature_id", id).Msg("Related signature lookup failed")
	} else {
		details.Related = related
	}

	return details, nil
}

// ListSignatures returns signatures, optionally filtered by status.
func (s *Service) ListSignatures(ctx context.Context, status models.Status) ([]*models.Signature, error) {
	return s.store.List(ctx, status)
}
