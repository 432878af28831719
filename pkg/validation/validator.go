// Package validation implements collection document validators: a JSON
// Schema predicate compiled once per collection, plus the level/action
// policy that decides whether a mismatch rejects the write or only warns.
package validation

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/adfharrison1/go-docstore/pkg/domain"
)

// Level controls when the validator predicate is enforced.
type Level int

const (
	// LevelStrict enforces the predicate on every insert and update.
	LevelStrict Level = iota
	// LevelModerate tolerates updates to documents that were already
	// non-conforming before the write.
	LevelModerate
	// LevelOff disables enforcement entirely.
	LevelOff
)

// Action controls what a predicate mismatch does.
type Action int

const (
	// ActionError rejects the write.
	ActionError Action = iota
	// ActionWarn logs the mismatch and lets the write through.
	ActionWarn
)

// FeatureSet gates which predicate features a validator may use.
type FeatureSet uint32

const (
	// AllowAllFeatures places no restriction on the validator document.
	AllowAllFeatures FeatureSet = ^FeatureSet(0)
)

// FeatureVersion is the persisted compatibility version that gates
// behavioral details of validation.
type FeatureVersion int

const (
	Version44 FeatureVersion = 44
	Version47 FeatureVersion = 47
	Version50 FeatureVersion = 50
)

// detailMinVersion is the first version that can generate per-keyword
// failure detail.
const detailMinVersion = Version47

// APIParams are the requesting client's API-version parameters.
type APIParams struct {
	Version           string
	Strict            bool
	DeprecationErrors bool
}

// Validator is an immutable (document, compiled predicate or error, level,
// action) tuple. A malformed validator document is retained but never
// enforced: Check silently no-ops when compilation failed.
type Validator struct {
	Doc    domain.Document
	Level  Level
	Action Action

	schema   *gojsonschema.Schema
	parseErr error

	// detail generation is gated by the compatibility version in effect
	// when the validator was parsed.
	generateDetail bool

	// Keyword scan results used for API-version gating.
	usesUnstable   bool
	usesDeprecated bool
}

// ParseErr returns the captured compile failure, if any. Callers must check
// this before treating enforcement as active.
func (v *Validator) ParseErr() error {
	return v.parseErr
}

// HasFilter reports whether the validator carries an evaluable predicate.
func (v *Validator) HasFilter() bool {
	return v != nil && v.schema != nil
}

// Parse compiles a validator document into a Validator. An empty document
// yields a no-op validator. A compile failure is captured inside the value,
// not raised: users may have validators on disk which were considered well
// formed in older versions but not in newer ones.
func Parse(doc domain.Document, level Level, action Action, allowed FeatureSet, maxCompat *FeatureVersion) *Validator {
	v := &Validator{
		Doc:            doc,
		Level:          level,
		Action:         action,
		generateDetail: maxCompat == nil || *maxCompat >= detailMinVersion,
	}
	if len(doc) == 0 {
		return v
	}

	v.usesUnstable, v.usesDeprecated = scanKeywords(doc)

	raw, err := json.Marshal(map[string]interface{}(doc))
	if err != nil {
		v.parseErr = fmt.Errorf("parsing of collection validator failed: %w", err)
		return v
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		v.parseErr = fmt.Errorf("parsing of collection validator failed: %w", err)
		return v
	}
	v.schema = schema
	return v
}

// scanKeywords walks the validator document looking for unstable ("$_"
// prefixed) and deprecated keywords, for API-version gating.
func scanKeywords(doc map[string]interface{}) (unstable, deprecated bool) {
	for k, val := range doc {
		if strings.HasPrefix(k, "$_") {
			unstable = true
		}
		if k == "divisibleBy" {
			// Pre-draft-4 alias of multipleOf.
			deprecated = true
		}
		if nested, ok := val.(map[string]interface{}); ok {
			u, d := scanKeywords(nested)
			unstable = unstable || u
			deprecated = deprecated || d
		}
	}
	return unstable, deprecated
}

// CheckAPICompat verifies the validator against the client's API-version
// parameters. Checked before predicate evaluation.
func (v *Validator) CheckAPICompat(params APIParams) error {
	if v == nil || len(v.Doc) == 0 {
		return nil
	}
	if params.Strict && params.Version == "1" && v.usesUnstable {
		return &domain.APIVersionError{Reason: "the validator uses unstable expression(s) for API Version 1"}
	}
	if params.DeprecationErrors && params.Version == "1" && v.usesDeprecated {
		return &domain.APIVersionError{Reason: "the validator uses deprecated expression(s) for API Version 1"}
	}
	return nil
}

// Check evaluates the predicate against a document. It returns nil when the
// level is off, compilation failed, or the document matches; a mismatch with
// action=warn logs and returns nil; a mismatch with action=error returns a
// ValidationError carrying generated detail when the compatibility version
// permits.
func (v *Validator) Check(ns domain.Namespace, doc domain.Document) error {
	if v == nil || v.parseErr != nil || v.schema == nil {
		return nil
	}
	if v.Level == LevelOff {
		return nil
	}

	result, err := v.schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(doc)))
	if err != nil {
		// An evaluation that itself fails is treated as a mismatch.
		if v.Action == ActionWarn {
			log.Printf("[WARN] document would fail validation on %s: %v", ns, err)
			return nil
		}
		return fmt.Errorf("document validation failed: %w", &domain.ValidationError{Namespace: ns})
	}
	if result.Valid() {
		return nil
	}

	var detail []string
	if v.generateDetail {
		for _, desc := range result.Errors() {
			detail = append(detail, desc.String())
		}
	}

	if v.Action == ActionWarn {
		log.Printf("[WARN] document would fail validation on %s: %v", ns, detail)
		return nil
	}
	return &domain.ValidationError{Namespace: ns, Detail: detail}
}
