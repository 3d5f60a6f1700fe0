package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/config"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// HTTPProvider posts messages to a generic gateway endpoint. SMS and email
// gateways both speak this shape in front of the real carrier APIs.
type HTTPProvider struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func (p *HTTPProvider) Send(ctx context.Context, target, subject, body string) (ProviderResult, error) {
	if p.HTTP == nil {
		p.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if p.BaseURL == "" {
		return ProviderResult{}, fmt.Errorf("missing provider base url")
	}

	payload, err := json.Marshal(map[string]string{
		"target":  target,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return ProviderResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return ProviderResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	res, err := p.HTTP.Do(req)
	if err != nil {
		return ProviderResult{}, err
	}
	defer res.Body.Close()

	var resp struct {
		OK    bool   `json:"ok"`
		ID    string `json:"id,omitempty"`
		Error string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return ProviderResult{}, fmt.Errorf("decode provider response: %w", err)
	}
	if !resp.OK {
		if resp.Error == "" {
			resp.Error = fmt.Sprintf("provider status %d", res.StatusCode)
		}
		return ProviderResult{}, fmt.Errorf("%s", resp.Error)
	}
	if resp.ID == "" {
		return ProviderResult{}, fmt.Errorf("provider returned no message id")
	}
	return ProviderResult{MessageID: resp.ID}, nil
}

// RegistryFactory builds providers from the tenant registry; unconfigured
// pairs get the logged-only fallback.
type RegistryFactory struct {
	providers map[string]map[types.Channel]*HTTPProvider
	log       *zap.Logger
}

func NewRegistryFactory(reg config.Registry, log *zap.Logger) *RegistryFactory {
	f := &RegistryFactory{
		providers: make(map[string]map[types.Channel]*HTTPProvider),
		log:       log,
	}
	for _, tenant := range reg.Tenants {
		for channel, pc := range tenant.Notify {
			if pc.BaseURL == "" {
				continue
			}
			if f.providers[tenant.ID] == nil {
				f.providers[tenant.ID] = make(map[types.Channel]*HTTPProvider)
			}
			f.providers[tenant.ID][channel] = &HTTPProvider{BaseURL: pc.BaseURL, Token: pc.Token}
		}
	}
	return f
}

func (f *RegistryFactory) ProviderFor(tenantID string, channel types.Channel) Provider {
	if byChannel, ok := f.providers[tenantID]; ok {
		if p, ok := byChannel[channel]; ok {
			return p
		}
	}
	return LoggedProvider{Log: f.log, Channel: channel}
}
