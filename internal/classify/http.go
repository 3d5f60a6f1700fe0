package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

// HTTPClassifier calls an external classification endpoint. Timeouts are the
// caller's responsibility via ctx; the embedded client timeout is a backstop.
type HTTPClassifier struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

type classifyRequest struct {
	Text        string   `json:"text"`
	Channel     string   `json:"channel,omitempty"`
	TenantName  string   `json:"tenant_name,omitempty"`
	ContactName string   `json:"contact_name,omitempty"`
	Modules     []string `json:"enabled_modules,omitempty"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string, cctx Context) (types.Classification, error) {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	if c.BaseURL == "" {
		return types.Classification{}, fmt.Errorf("missing classifier base url")
	}

	reqBody := classifyRequest{
		Text:       text,
		Channel:    string(cctx.Channel),
		TenantName: cctx.Tenant.Name,
	}
	if cctx.Contact != nil {
		reqBody.ContactName = cctx.Contact.Name
	}
	for module, on := range cctx.Tenant.EnabledModules {
		if on {
			reqBody.Modules = append(reqBody.Modules, module)
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return types.Classification{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/classify", bytes.NewReader(body))
	if err != nil {
		return types.Classification{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return types.Classification{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return types.Classification{}, fmt.Errorf("classifier status %d", res.StatusCode)
	}

	var cls types.Classification
	if err := json.NewDecoder(res.Body).Decode(&cls); err != nil {
		return types.Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	return cls, nil
}
