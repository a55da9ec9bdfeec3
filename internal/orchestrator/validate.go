package orchestrator

import (
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/exchangeset/internal/foundation"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

// requestValidator checks a Request before a job is created. The chain reads
// s.now on every call so tests can move the clock.
func (s *Service) requestValidator() *foundation.ValidatorChain[Request] {
	return foundation.NewValidatorChain(
		foundation.Check("data_standard", "unknown", "unknown data standard",
			func(r Request) bool {
				_, err := jobs.ParseDataStandard(r.DataStandard)
				return err == nil
			},
			func(r Request) any { return r.DataStandard }),
		foundation.Check("data_standard", "not_served", "data standard not served by this orchestrator",
			func(r Request) bool {
				ds, err := jobs.ParseDataStandard(r.DataStandard)
				return err != nil || s.serves(ds)
			},
			func(r Request) any { return r.DataStandard }),
		foundation.Check("product_filter", "empty_entry", "empty product filter entry",
			func(r Request) bool {
				for _, f := range r.ProductFilter {
					if strings.TrimSpace(f) == "" {
						return false
					}
				}
				return true
			},
			func(r Request) any { return r.ProductFilter }),
		foundation.Check("since", "future", "since must not be in the future",
			func(r Request) bool { return r.Since == nil || !r.Since.After(s.now()) },
			func(r Request) any { return r.Since }),
		foundation.Check("job_id", "not_uuid", "job_id must be a UUID",
			func(r Request) bool {
				if r.JobID == "" {
					return true
				}
				_, err := uuid.Parse(r.JobID)
				return err == nil
			},
			func(r Request) any { return r.JobID }),
	)
}
