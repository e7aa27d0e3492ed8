package metrics

import "time"

// Service holds the metrics the chat service records.
type Service struct {
	reg *Registry
}

// NewService wraps reg, creating a fresh registry when reg is nil.
func NewService(reg *Registry) *Service {
	if reg == nil {
		reg = New()
	}
	return &Service{reg: reg}
}

// Registry exposes the underlying registry for serving.
func (s *Service) Registry() *Registry { return s.reg }

// Request counts one routed request and, when failed, one error.
func (s *Service) Request(route string, status int) {
	s.reg.Counter("largo_requests_total", "Routed requests by operation.", "route", route).Inc()
	if status >= 500 {
		s.reg.Counter("largo_request_errors_total", "Requests answered with a 5xx status.", "route", route).Inc()
	}
}

// ChunksIngested adds n stored chunks.
func (s *Service) ChunksIngested(n int) {
	s.reg.Counter("largo_ingest_chunks_total", "Document chunks inserted into the vector store.").Add(int64(n))
}

// ObservePipeline records how long a pipeline run took.
func (s *Service) ObservePipeline(pipeline string, start time.Time) {
	s.reg.Histogram("largo_pipeline_duration_seconds", "Pipeline latency.", nil, "pipeline", pipeline).Since(start)
}

// Component records a readiness gauge for one client.
func (s *Service) Component(name string, ready bool) {
	s.reg.Gauge("largo_component_ready", "1 when the client initialised.", "component", name).SetBool(ready)
}
