package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// ComponentChecker checks availability of an external component, such as
// the embedding provider or the reranking service.
type ComponentChecker interface {
	HealthCheck(ctx context.Context) error
}
