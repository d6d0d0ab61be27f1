package handler

import (
	"time"

	"certfsm/internal/ca"
	"certfsm/internal/certificate/fsm"
	"certfsm/internal/certificate/models"
	"certfsm/internal/certificate/service"
)

// CertificateRefResponse mirrors models.CertificateRef on the wire.
type CertificateRefResponse struct {
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
}

// DomainResponse is the wire shape for a registered domain.
type DomainResponse struct {
	Name             string                  `json:"name"`
	State            models.State            `json:"state"`
	CertificateRef   *CertificateRefResponse `json:"certificate_ref,omitempty"`
	LastTransitionAt time.Time               `json:"last_transition_at"`
	LastError        string                  `json:"last_error,omitempty"`
	Version          int64                   `json:"version"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

func fromRef(ref *models.CertificateRef) *CertificateRefResponse {
	if ref == nil {
		return nil
	}
	return &CertificateRefResponse{
		Issuer:       ref.Issuer,
		SerialNumber: ref.SerialNumber,
		NotBefore:    ref.NotBefore,
		NotAfter:     ref.NotAfter,
	}
}

// FromDomain converts a domain model to its response shape. The staged
// pending ref is internal bookkeeping and never leaves the process.
func FromDomain(d *models.Domain) DomainResponse {
	return DomainResponse{
		Name:             d.Name,
		State:            d.State,
		CertificateRef:   fromRef(d.CertificateRef),
		LastTransitionAt: d.LastTransitionAt,
		LastError:        d.LastError,
		Version:          d.Version,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// DomainListResponse wraps the domain collection.
type DomainListResponse struct {
	Domains []DomainResponse `json:"domains"`
	Count   int              `json:"count"`
}

func FromDomainList(domains []*models.Domain) DomainListResponse {
	out := make([]DomainResponse, 0, len(domains))
	for _, d := range domains {
		out = append(out, FromDomain(d))
	}
	return DomainListResponse{Domains: out, Count: len(out)}
}

// RecordResponse is the wire shape for one audit trail entry.
type RecordResponse struct {
	ID        string         `json:"id"`
	Domain    string         `json:"domain"`
	FromState models.State   `json:"from_state"`
	Event     models.Event   `json:"event"`
	ToState   models.State   `json:"to_state,omitempty"`
	Outcome   models.Outcome `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// HistoryResponse wraps a domain's audit trail.
type HistoryResponse struct {
	Records []RecordResponse `json:"records"`
	Count   int              `json:"count"`
}

func FromRecords(records []models.TransitionRecord) HistoryResponse {
	out := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, RecordResponse{
			ID:        rec.ID.String(),
			Domain:    rec.Domain,
			FromState: rec.FromState,
			Event:     rec.Event,
			ToState:   rec.ToState,
			Outcome:   rec.Outcome,
			Error:     rec.Error,
			Timestamp: rec.Timestamp,
		})
	}
	return HistoryResponse{Records: out, Count: len(out)}
}

// StatusResponse pairs the registry view with the authority's report.
type StatusResponse struct {
	Domain DomainResponse  `json:"domain"`
	Report ca.StatusReport `json:"report"`
}

func FromStatusResult(result *service.StatusResult) StatusResponse {
	return StatusResponse{
		Domain: FromDomain(result.Domain),
		Report: result.Report,
	}
}

// StatesResponse lists the lifecycle states.
type StatesResponse struct {
	States []models.State `json:"states"`
}

// TransitionsResponse lists transition table edges.
type TransitionsResponse struct {
	Transitions []fsm.Entry `json:"transitions"`
}
