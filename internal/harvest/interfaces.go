package harvest

import (
	"context"
	"time"
)

// QueryUnderstanding turns a natural-language query into a categorized query
// with candidate URLs. May fail or time out; the coordinator treats that as
// fatal since nothing downstream can run without targets.
type QueryUnderstanding interface {
	Parse(ctx context.Context, text string) (ParsedQuery, error)
}

// AIInput is the content handed to an AI capability call.
type AIInput struct {
	Query string
	Title string
	Text  string
}

// AICapability is the external LLM boundary. Implementations map their own
// error taxonomy into transient/permanent classes via retry.Policy predicates;
// the pipeline records failures as stage-level outcomes, never as workflow
// failures.
type AICapability interface {
	Analyze(ctx context.Context, in AIInput) (AnalysisPayload, error)
	Summarize(ctx context.Context, in AIInput, maxLength int) (SummaryPayload, error)
	Extract(ctx context.Context, in AIInput) (ExtractionPayload, error)
}

// Persistence stores a completed workflow result. Best-effort from the
// coordinator's viewpoint: errors downgrade to a storage_failed warning.
type Persistence interface {
	Store(ctx context.Context, result *WorkflowResult) error
	Ping(ctx context.Context) error
}

// Publisher pushes workflow completion events to an event bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// Hasher computes stable digests for fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces workflow IDs.
type IDGenerator interface {
	NewID() (string, error)
}
