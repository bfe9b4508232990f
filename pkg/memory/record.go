// Package memory builds durable memories from admitted DOMAIN events, governs
// their lifecycle and serves policy-filtered views of them.
package memory

import (
	"fmt"
	"slices"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/francescomaiomascio/yai/pkg/canonicalize"
	"github.com/francescomaiomascio/yai/pkg/ids"
)

// MemoryType classifies what a memory holds.
type MemoryType string

const (
	TypeEpisodic   MemoryType = "episodic"
	TypeSemantic   MemoryType = "semantic"
	TypeProcedural MemoryType = "procedural"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeEpisodic, TypeSemantic, TypeProcedural:
		return true
	}
	return false
}

// DefaultSchemaVersion is used when a commit does not name one.
const DefaultSchemaVersion = "1.0.0"

// LifecyclePolicy bounds how long a memory stays active.
type LifecyclePolicy struct {
	// TTL of zero means the memory never expires on its own.
	TTL time.Duration `json:"ttl,omitempty"`
}

// ExpiresAt returns the expiry instant for a memory created at created.
func (p LifecyclePolicy) ExpiresAt(created time.Time) (time.Time, bool) {
	if p.TTL <= 0 {
		return time.Time{}, false
	}
	return created.Add(p.TTL), true
}

// Provenance records where a memory came from.
type Provenance struct {
	SourceEvents     []string  `json:"source_events"`
	PromotionEventID string    `json:"promotion_event_id"`
	PromotedAt       time.Time `json:"promoted_at"`
}

func (p Provenance) clone() Provenance {
	p.SourceEvents = slices.Clone(p.SourceEvents)
	return p
}

// RecordSpec carries the inputs of NewRecord.
type RecordSpec struct {
	MemoryID      string
	Type          MemoryType
	Payload       map[string]any
	Confidence    float64
	Lifecycle     LifecyclePolicy
	Access        AccessPolicy
	SourceEvents  []string
	SchemaVersion string
	CreatedAt     time.Time
	Provenance    Provenance
}

// Record is an immutable memory. Accessors return copies.
type Record struct {
	memoryID      string
	memoryType    MemoryType
	payload       map[string]any
	confidence    float64
	lifecycle     LifecyclePolicy
	access        AccessPolicy
	sourceEvents  []string
	schemaVersion *semver.Version
	createdAt     time.Time
	provenance    Provenance
}

// NewRecord validates spec and seals it into a Record.
func NewRecord(spec RecordSpec) (*Record, error) {
	if !ids.IsUUID(spec.MemoryID) {
		return nil, &RecordError{Field: "memory_id", Message: fmt.Sprintf("%q is not a UUID", spec.MemoryID)}
	}
	if !spec.Type.Valid() {
		return nil, &RecordError{Field: "memory_type", Message: fmt.Sprintf("unknown type %q", spec.Type)}
	}
	if spec.Confidence < 0 || spec.Confidence > 1 {
		return nil, &RecordError{Field: "confidence", Message: fmt.Sprintf("%v outside [0,1]", spec.Confidence)}
	}
	if len(spec.SourceEvents) == 0 {
		return nil, &RecordError{Field: "source_events", Message: "must not be empty"}
	}
	if spec.Access == nil {
		return nil, &RecordError{Field: "access_policy", Message: "must be set"}
	}
	if spec.CreatedAt.IsZero() {
		return nil, &RecordError{Field: "created_at", Message: "must be set"}
	}
	version := spec.SchemaVersion
	if version == "" {
		version = DefaultSchemaVersion
	}
	sv, err := semver.StrictNewVersion(version)
	if err != nil {
		return nil, &RecordError{Field: "schema_version", Message: err.Error()}
	}
	payload, err := canonicalize.Normalize(spec.Payload)
	if err != nil {
		return nil, &RecordError{Field: "payload", Message: err.Error()}
	}
	prov := spec.Provenance.clone()
	if prov.SourceEvents == nil {
		prov.SourceEvents = slices.Clone(spec.SourceEvents)
	}
	return &Record{
		memoryID:      spec.MemoryID,
		memoryType:    spec.Type,
		payload:       payload,
		confidence:    spec.Confidence,
		lifecycle:     spec.Lifecycle,
		access:        spec.Access,
		sourceEvents:  slices.Clone(spec.SourceEvents),
		schemaVersion: sv,
		createdAt:     spec.CreatedAt.UTC(),
		provenance:    prov,
	}, nil
}

func (r *Record) ID() string                 { return r.memoryID }
func (r *Record) Type() MemoryType           { return r.memoryType }
func (r *Record) Confidence() float64        { return r.confidence }
func (r *Record) Lifecycle() LifecyclePolicy { return r.lifecycle }
func (r *Record) Access() AccessPolicy       { return r.access }
func (r *Record) CreatedAt() time.Time       { return r.createdAt }
func (r *Record) SchemaVersion() string      { return r.schemaVersion.String() }
func (r *Record) Payload() map[string]any    { return canonicalize.CloneMap(r.payload) }
func (r *Record) SourceEvents() []string     { return slices.Clone(r.sourceEvents) }
func (r *Record) Provenance() Provenance     { return r.provenance.clone() }

// CompatibleWith reports whether the record schema satisfies constraint,
// for example "^1.0".
func (r *Record) CompatibleWith(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Check(r.schemaVersion), nil
}
