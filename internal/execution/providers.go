package execution

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/config"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

type ReservationDetails struct {
	TenantID  string `json:"tenant_id"`
	ContactID string `json:"contact_id,omitempty"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	PartySize int    `json:"party_size"`
	Notes     string `json:"notes,omitempty"`
}

type ReservationResult struct {
	ReferenceCode string `json:"reference_code"`
	Status        string `json:"status"`
}

// BookingProvider creates reservations in an external booking system.
type BookingProvider interface {
	CreateReservation(ctx context.Context, details ReservationDetails) (ReservationResult, error)
}

// CRMProvider resolves contact records held in an external CRM. Best-effort:
// callers treat a nil contact as "not found".
type CRMProvider interface {
	GetContact(ctx context.Context, query string) (*types.Contact, error)
}

// ProviderFactory selects per-tenant providers at request time.
type ProviderFactory interface {
	Booking(tenantID string) BookingProvider
	CRM(tenantID string) CRMProvider
}

// HTTPBookingProvider talks to a configured booking gateway.
type HTTPBookingProvider struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func (p *HTTPBookingProvider) CreateReservation(ctx context.Context, details ReservationDetails) (ReservationResult, error) {
	if p.HTTP == nil {
		p.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	body, err := json.Marshal(details)
	if err != nil {
		return ReservationResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/reservations", bytes.NewReader(body))
	if err != nil {
		return ReservationResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	res, err := p.HTTP.Do(req)
	if err != nil {
		return ReservationResult{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return ReservationResult{}, fmt.Errorf("booking provider status %d", res.StatusCode)
	}

	var result ReservationResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return ReservationResult{}, fmt.Errorf("decode reservation: %w", err)
	}
	if result.ReferenceCode == "" {
		return ReservationResult{}, fmt.Errorf("booking provider returned no reference")
	}
	return result, nil
}

// DevBookingProvider stands in where no gateway is configured. Reservations
// get a random local reference so downstream flows stay exercisable.
type DevBookingProvider struct{}

func (DevBookingProvider) CreateReservation(_ context.Context, _ ReservationDetails) (ReservationResult, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return ReservationResult{}, err
	}
	ref := "DEV-" + strings.ToUpper(hex.EncodeToString(buf))
	return ReservationResult{ReferenceCode: ref, Status: "confirmed"}, nil
}

// NoCRMProvider reports every lookup as a miss.
type NoCRMProvider struct{}

func (NoCRMProvider) GetContact(context.Context, string) (*types.Contact, error) {
	return nil, nil
}

// RegistryProviders builds providers from the tenant registry.
type RegistryProviders struct {
	booking map[string]*HTTPBookingProvider
	log     *zap.Logger
}

func NewRegistryProviders(reg config.Registry, log *zap.Logger) *RegistryProviders {
	f := &RegistryProviders{booking: make(map[string]*HTTPBookingProvider), log: log}
	for _, t := range reg.Tenants {
		if t.Booking != nil && t.Booking.BaseURL != "" {
			f.booking[t.ID] = &HTTPBookingProvider{BaseURL: t.Booking.BaseURL, Token: t.Booking.Token}
		}
	}
	return f
}

func (f *RegistryProviders) Booking(tenantID string) BookingProvider {
	if p, ok := f.booking[tenantID]; ok {
		return p
	}
	return DevBookingProvider{}
}

func (f *RegistryProviders) CRM(string) CRMProvider {
	return NoCRMProvider{}
}
