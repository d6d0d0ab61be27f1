package handler

import (
	"errors"
	"strings"
	"time"

	"certfsm/internal/certificate/engine"
	"certfsm/internal/certificate/models"
)

// RegisterRequest is the payload for POST /domains.
type RegisterRequest struct {
	Domain string `json:"domain"`
}

func (r *RegisterRequest) Validate() error {
	if strings.TrimSpace(r.Domain) == "" {
		return errors.New("domain is required")
	}
	return nil
}

// CertificateRefRequest carries an externally obtained certificate ref.
type CertificateRefRequest struct {
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
}

func (r *CertificateRefRequest) Validate() error {
	if r.Issuer == "" || r.SerialNumber == "" {
		return errors.New("certificate_ref requires issuer and serial_number")
	}
	if !r.NotAfter.After(r.NotBefore) {
		return errors.New("certificate_ref validity window is empty")
	}
	return nil
}

// TransitionRequest is the optional payload for transition endpoints. A bare
// POST is valid; every field refines the event.
type TransitionRequest struct {
	ValidityDays   int                    `json:"validity_days,omitempty"`
	CertificateRef *CertificateRefRequest `json:"certificate_ref,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
}

func (r *TransitionRequest) Validate() error {
	if r.ValidityDays < 0 {
		return errors.New("validity_days cannot be negative")
	}
	if r.CertificateRef != nil {
		return r.CertificateRef.Validate()
	}
	return nil
}

// ToPayload converts the request into an engine payload.
func (r *TransitionRequest) ToPayload() engine.Payload {
	p := engine.Payload{
		ValidityDays: r.ValidityDays,
		Reason:       r.Reason,
	}
	if r.CertificateRef != nil {
		p.Ref = &models.CertificateRef{
			Issuer:       r.CertificateRef.Issuer,
			SerialNumber: r.CertificateRef.SerialNumber,
			NotBefore:    r.CertificateRef.NotBefore,
			NotAfter:     r.CertificateRef.NotAfter,
		}
	}
	return p
}
