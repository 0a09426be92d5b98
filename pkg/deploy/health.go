package deploy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/machshop/extension-orchestrator/pkg/extension"
)

// Probe check types run against a deployed extension.
const (
	CheckTypeLiveness  = "liveness"
	CheckTypeReadiness = "readiness"
)

// Prober performs one health probe of a deployed extension. Implementations
// talk to the site runtime; the service treats any probe error as an
// unhealthy result rather than a failed operation.
type Prober interface {
	Probe(ctx context.Context, siteID, extensionID, checkType string) (HealthStatus, string, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, siteID, extensionID, checkType string) (HealthStatus, string, error)

func (f ProberFunc) Probe(ctx context.Context, siteID, extensionID, checkType string) (HealthStatus, string, error) {
	return f(ctx, siteID, extensionID, checkType)
}

// HTTPProber probes extensions over the site runtime's HTTP health
// endpoints: <base>/extensions/<id>/health/<check-type>. A 2xx response is
// healthy, 429 and 503 are degraded, anything else is unhealthy.
type HTTPProber struct {
	client  *http.Client
	baseURL func(siteID string) (string, error)
}

// NewHTTPProber creates an HTTP prober. baseURL resolves a site to its
// runtime base URL.
func NewHTTPProber(baseURL func(siteID string) (string, error)) *HTTPProber {
	return &HTTPProber{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, siteID, extensionID, checkType string) (HealthStatus, string, error) {
	base, err := p.baseURL(siteID)
	if err != nil {
		return HealthStatusUnknown, "", fmt.Errorf("failed to resolve site runtime: %w", err)
	}

	url := fmt.Sprintf("%s/extensions/%s/health/%s", base, extensionID, checkType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthStatusUnknown, "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return HealthStatusUnhealthy, "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return HealthStatusHealthy, "", nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return HealthStatusDegraded, resp.Status, nil
	default:
		return HealthStatusUnhealthy, resp.Status, nil
	}
}

// CheckExtensionHealth probes the extension on the site, persists each
// outcome and updates the site row's health status. An empty checkType
// runs every check type. Probe failures degrade the result; they never
// fail the operation.
func (s *Service) CheckExtensionHealth(ctx context.Context, siteID, extensionID, checkType string, tenant *extension.MultiTenancyContext) ([]*HealthCheckResult, error) {
	if err := s.guardSite(siteID, tenant); err != nil {
		return nil, err
	}

	checkTypes := []string{CheckTypeLiveness, CheckTypeReadiness}
	switch checkType {
	case "":
	case CheckTypeLiveness, CheckTypeReadiness:
		checkTypes = []string{checkType}
	default:
		return nil, extension.NewValidationError(
			fmt.Sprintf("unknown check type %q", checkType), nil).
			WithCode(extension.CodeInvalidRequest).WithSite(siteID).WithExtension(extensionID)
	}

	status, err := s.store.GetSiteExtension(ctx, siteID, extensionID)
	if err != nil {
		return nil, extension.NewInternalError("site extension lookup failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(siteID).WithExtension(extensionID)
	}
	if status == nil {
		return nil, extension.NewNotFoundError(
			fmt.Sprintf("extension %s is not deployed to site %s", extensionID, siteID), nil).
			WithCode(extension.CodeSiteExtensionNotFound).WithSite(siteID).WithExtension(extensionID)
	}

	results := make([]*HealthCheckResult, 0, len(checkTypes))
	overall := HealthStatusHealthy
	for _, ct := range checkTypes {
		result := s.runProbe(ctx, siteID, extensionID, ct)
		if err := s.store.InsertHealthCheck(ctx, result); err != nil {
			s.log.WithSiteID(siteID).WithExtensionID(extensionID).WithError(err).
				Warn("failed to persist health check result")
		}
		s.metrics.RecordHealthCheck(ct, string(result.Status))
		overall = worseOf(overall, result.Status)
		results = append(results, result)
	}

	checked := s.now()
	status.Health = overall
	status.LastHealthCheckAt = &checked
	status.UpdatedAt = checked
	if err := s.store.UpsertSiteExtension(ctx, status); err != nil {
		return nil, extension.NewInternalError("site extension health update failed", err).
			WithCode(extension.CodeStoreFailure).WithSite(siteID).WithExtension(extensionID)
	}
	return results, nil
}

// runProbe executes one probe, converting errors and panics into an
// unhealthy result with the failure in the message.
func (s *Service) runProbe(ctx context.Context, siteID, extensionID, checkType string) (result *HealthCheckResult) {
	started := s.now()
	result = &HealthCheckResult{
		SiteID:      siteID,
		ExtensionID: extensionID,
		CheckType:   checkType,
		CheckedAt:   started,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = HealthStatusUnhealthy
			result.Message = fmt.Sprintf("probe panicked: %v", r)
			s.log.WithSiteID(siteID).WithExtensionID(extensionID).
				Errorf("health probe panic: %v", r)
		}
		result.DurationMS = s.now().Sub(started).Milliseconds()
	}()

	if s.prober == nil {
		result.Status = HealthStatusUnknown
		result.Message = "no prober configured"
		return result
	}

	status, message, err := s.prober.Probe(ctx, siteID, extensionID, checkType)
	if err != nil {
		probeErr := extension.NewDeploymentError(checkType+" probe failed", err).
			WithCode(extension.CodeHealthProbeFailed).
			WithSite(siteID).WithExtension(extensionID)
		result.Status = HealthStatusUnhealthy
		result.Message = probeErr.Error()
		s.log.WithSiteID(siteID).WithExtensionID(extensionID).WithError(probeErr).
			Error("health probe failed")
		return result
	}
	result.Status = status
	result.Message = message
	return result
}

// worseOf picks the more severe of two health statuses.
func worseOf(a, b HealthStatus) HealthStatus {
	rank := func(h HealthStatus) int {
		switch h {
		case HealthStatusHealthy:
			return 0
		case HealthStatusUnknown:
			return 1
		case HealthStatusDegraded:
			return 2
		default:
			return 3
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
