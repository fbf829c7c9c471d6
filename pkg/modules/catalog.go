package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// SourceFunc performs the actual research work of a module: one call against
// an external source, returning an opaque payload or an error.
type SourceFunc func(ctx context.Context, topic string, params map[string]any) (any, error)

// SourceModule adapts a SourceFunc to the Module contract. All built-in
// modules are SourceModules; the orchestrator never sees past the contract.
type SourceModule struct {
	info   types.ModuleInfo
	source SourceFunc
}

// NewSourceModule wraps a source function with catalog metadata.
func NewSourceModule(info types.ModuleInfo, source SourceFunc) *SourceModule {
	return &SourceModule{info: info, source: source}
}

func (m *SourceModule) ID() types.ModuleID     { return m.info.ID }
func (m *SourceModule) Info() types.ModuleInfo { return m.info }

// Execute runs the underlying source. A module registered without a source
// is a configuration fault and fails fatally.
func (m *SourceModule) Execute(ctx context.Context, topic string, params map[string]any) (any, error) {
	if m.source == nil {
		return nil, flowerr.Newf(flowerr.CodeConfigMissing, "module %s has no source configured", m.info.ID)
	}
	return m.source(ctx, topic, params)
}

// catalog is the metadata for the six built-in research modules.
var catalog = map[types.ModuleID]types.ModuleInfo{
	types.ModuleAcademic: {
		ID:          types.ModuleAcademic,
		Name:        "Academic Research",
		Description: "Scholarly search across Semantic Scholar, arXiv and Google Scholar",
	},
	types.ModuleYouTube: {
		ID:          types.ModuleYouTube,
		Name:        "Video Transcript Mining",
		Description: "Deep analysis of video content and transcripts",
	},
	types.ModuleSocial: {
		ID:          types.ModuleSocial,
		Name:        "Social Listening",
		Description: "Trend monitoring and analysis on X",
	},
	types.ModuleWeb: {
		ID:          types.ModuleWeb,
		Name:        "Web Research",
		Description: "General web search and summarization",
	},
	types.ModuleFocusGroup: {
		ID:          types.ModuleFocusGroup,
		Name:        "Simulated Focus Group",
		Description: "Question analysis against a simulated consumer panel",
	},
	types.ModuleDocAudit: {
		ID:          types.ModuleDocAudit,
		Name:        "Document Audit",
		Description: "Deep brand and document audit over ingested material",
	},
}

// CatalogInfo returns the metadata for a built-in module ID.
func CatalogInfo(id types.ModuleID) (types.ModuleInfo, bool) {
	info, ok := catalog[id]
	return info, ok
}

// CatalogConfig configures the HTTP-backed sources of the built-in modules.
// Each module posts research requests to its endpoint; the API key is shared.
type CatalogConfig struct {
	APIKey    string
	Endpoints map[types.ModuleID]string
	Client    *http.Client
}

// DefaultRegistry builds a registry holding the six built-in modules, each
// backed by an HTTP source from cfg. Endpoints left empty still register;
// the module then fails fatally at execution with a configuration error, so
// a misconfigured selection surfaces before partial results do.
func DefaultRegistry(cfg CatalogConfig) *Registry {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	reg := NewRegistry()
	for _, id := range types.AllModules() {
		info := catalog[id]
		endpoint := cfg.Endpoints[id]
		reg.Register(NewSourceModule(info, httpSource(client, id, endpoint, cfg.APIKey)))
	}
	return reg
}

// researchRequest is the payload posted to a module's source endpoint.
type researchRequest struct {
	Topic  string         `json:"topic"`
	Params map[string]any `json:"params,omitempty"`
}

// researchResponse is the payload a source endpoint returns.
type researchResponse struct {
	ReportMarkdown string         `json:"report_markdown,omitempty"`
	Result         string         `json:"result,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func httpSource(client *http.Client, id types.ModuleID, endpoint, apiKey string) SourceFunc {
	return func(ctx context.Context, topic string, params map[string]any) (any, error) {
		if endpoint == "" {
			return nil, flowerr.Newf(flowerr.CodeConfigMissing, "no endpoint configured for module %s", id)
		}
		if apiKey == "" {
			return nil, flowerr.Newf(flowerr.CodeConfigMissing, "missing API key for module %s", id)
		}

		body, err := json.Marshal(researchRequest{Topic: topic, Params: params})
		if err != nil {
			return nil, flowerr.Wrap(err, flowerr.CodeInvalidInput, "encode research request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
		if err != nil {
			return nil, flowerr.Wrap(err, flowerr.CodeInvalidInput, "build research request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, flowerr.Wrap(err, flowerr.CodeTimeout, fmt.Sprintf("module %s timed out", id))
			}
			return nil, flowerr.Wrap(err, flowerr.CodeConnectionFailed, fmt.Sprintf("module %s source unreachable", id))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, flowerr.Newf(flowerr.CodeRateLimit, "module %s rate limited", id)
		case resp.StatusCode >= 400:
			return nil, flowerr.Newf(flowerr.CodeConnectionFailed, "module %s source returned %d", id, resp.StatusCode)
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, flowerr.Wrap(err, flowerr.CodeConnectionFailed, "read source response")
		}

		var parsed researchResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			// Non-JSON responses are treated as raw report text.
			if text := strings.TrimSpace(string(raw)); text != "" {
				return text, nil
			}
			return nil, flowerr.Newf(flowerr.CodeEmptyResult, "module %s returned an empty response", id)
		}

		switch {
		case parsed.ReportMarkdown != "":
			return map[string]any{"report_markdown": parsed.ReportMarkdown}, nil
		case parsed.Result != "":
			return map[string]any{"result": parsed.Result}, nil
		case len(parsed.Data) > 0:
			return parsed.Data, nil
		default:
			return nil, flowerr.Newf(flowerr.CodeEmptyResult, "module %s returned no usable data", id)
		}
	}
}
