package collection

import (
	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/validation"
)

type config struct {
	capped        bool
	cappedMaxSize int64
	cappedMaxDocs int64

	clustered       bool
	recordPreImages bool

	validatorDoc    domain.Document
	validatorLevel  validation.Level
	validatorAction validation.Action

	protocol ProtocolVersion

	observer   domain.OpObserver
	indexes    domain.IndexMaintainer
	failPoints FailPoints
}

// Option configures a collection at creation time.
type Option func(*config)

// WithCapped makes the collection capped with the given budgets. A zero
// budget means "unlimited" for that dimension; at least one must be set.
func WithCapped(maxSizeBytes, maxDocs int64) Option {
	return func(c *config) {
		c.capped = true
		c.cappedMaxSize = maxSizeBytes
		c.cappedMaxDocs = maxDocs
	}
}

// WithClusteredByID clusters the record store on the document's primary
// identifier instead of engine-assigned record ids.
func WithClusteredByID() Option {
	return func(c *config) {
		c.clustered = true
	}
}

// WithValidator installs a document validator with the given policy.
func WithValidator(doc domain.Document, level validation.Level, action validation.Action) Option {
	return func(c *config) {
		c.validatorDoc = doc
		c.validatorLevel = level
		c.validatorAction = action
	}
}

// WithRecordPreImages enables pre-image retention on updates and deletes.
func WithRecordPreImages() Option {
	return func(c *config) {
		c.recordPreImages = true
	}
}

// WithEvictionProtocol selects the capped-eviction protocol version.
func WithEvictionProtocol(v ProtocolVersion) Option {
	return func(c *config) {
		c.protocol = v
	}
}

// WithOpObserver installs the replication-log observer notified by the write
// path.
func WithOpObserver(obs domain.OpObserver) Option {
	return func(c *config) {
		c.observer = obs
	}
}

// WithIndexMaintainer installs the secondary-index maintenance engine.
func WithIndexMaintainer(im domain.IndexMaintainer) Option {
	return func(c *config) {
		c.indexes = im
	}
}

// WithFailPoints installs test-only fail-point hooks.
func WithFailPoints(fp FailPoints) Option {
	return func(c *config) {
		c.failPoints = fp
	}
}
