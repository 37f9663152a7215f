package health

import (
	"context"
	"time"

	"github.com/kailas-cloud/docbase/internal/domain/schema"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates the cache is failing while storage works.
	Degraded Status = "degraded"
	// Unhealthy indicates storage is unusable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

const defaultCheckTimeout = 2 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	db       DBPinger
	metadata MetadataChecker
	cache    CachePinger
	timeout  time.Duration
}

// New creates a Service. metadata and cache can be nil.
func New(db DBPinger, metadata MetadataChecker, cache CachePinger) *Service {
	return &Service{db: db, metadata: metadata, cache: cache, timeout: defaultCheckTimeout}
}

// WithTimeout bounds every individual check.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	checks["database"] = s.run(ctx, s.db.Ping)

	if s.metadata != nil {
		checks["metadata"] = s.run(ctx, func(ctx context.Context) error {
			ok, err := s.metadata.Exists(ctx, schema.MetadataCollection)
			if err != nil {
				return err
			}
			if !ok {
				return errMetadataMissing
			}
			return nil
		})
	}

	if s.cache != nil {
		checks["cache"] = s.run(ctx, s.cache.Ping)
	}

	status := Healthy
	switch {
	case checks["database"] == CheckError, checks["metadata"] == CheckError:
		status = Unhealthy
	case checks["cache"] == CheckError:
		status = Degraded
	}

	return Report{Status: status, Checks: checks}
}

func (s *Service) run(ctx context.Context, fn func(context.Context) error) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		return CheckError
	}
	return CheckOK
}
