package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Job payloads form a tagged union keyed by job type. Each payload carries
// everything a worker needs to resume without re-reading client state,
// including the entity status to fall back to when the job fails for good.

// AnalyzeKeywordPayload drives keyword metric analysis.
type AnalyzeKeywordPayload struct {
	KeywordID      string `json:"keyword_id"`
	Term           string `json:"term"`
	FallbackStatus string `json:"fallback_status"`
}

// GenerateBriefPayload drives brief generation for an already analyzed keyword.
type GenerateBriefPayload struct {
	KeywordID      string `json:"keyword_id"`
	Term           string `json:"term"`
	FallbackStatus string `json:"fallback_status"`
}

// AnalyzeCompetitorPayload drives competitor traffic estimation.
type AnalyzeCompetitorPayload struct {
	CompetitorID   string `json:"competitor_id"`
	Domain         string `json:"domain"`
	FallbackStatus string `json:"fallback_status"`
}

// PublishPayload drives publishing a generated brief to the external CMS.
type PublishPayload struct {
	BriefID          string `json:"brief_id"`
	ContentKey       string `json:"content_key"`
	FeaturedImageURL string `json:"featured_image_url,omitempty"`
	FallbackStatus   string `json:"fallback_status"`
}

// RequestRefundPayload drives refund verification and resolution.
type RequestRefundPayload struct {
	RefundID   string `json:"refund_id"`
	PaymentRef string `json:"payment_ref"`
}

// EncodePayload marshals a typed payload for storage.
func EncodePayload(p any) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

// DecodePayload unmarshals raw payload bytes into dst.
func DecodePayload(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// ValidatePayload checks a raw payload against the schema for its job type.
// Enqueue rejects invalid payloads before any job row is created.
func ValidatePayload(jobType string, raw []byte) error {
	if !KnownJobType(jobType) {
		return fmt.Errorf("unknown job type %q", jobType)
	}
	switch jobType {
	case JobAnalyzeKeyword:
		var p AnalyzeKeywordPayload
		if err := DecodePayload(raw, &p); err != nil {
			return err
		}
		return requireFields(map[string]string{"keyword_id": p.KeywordID, "term": p.Term})
	case JobGenerateBrief:
		var p GenerateBriefPayload
		if err := DecodePayload(raw, &p); err != nil {
			return err
		}
		return requireFields(map[string]string{"keyword_id": p.KeywordID, "term": p.Term})
	case JobAnalyzeCompetitor:
		var p AnalyzeCompetitorPayload
		if err := DecodePayload(raw, &p); err != nil {
			return err
		}
		return requireFields(map[string]string{"competitor_id": p.CompetitorID, "domain": p.Domain})
	case JobPublish:
		var p PublishPayload
		if err := DecodePayload(raw, &p); err != nil {
			return err
		}
		return requireFields(map[string]string{"brief_id": p.BriefID})
	case JobRequestRefund:
		var p RequestRefundPayload
		if err := DecodePayload(raw, &p); err != nil {
			return err
		}
		return requireFields(map[string]string{"refund_id": p.RefundID, "payment_ref": p.PaymentRef})
	}
	return nil
}

func requireFields(fields map[string]string) error {
	for name, val := range fields {
		if val == "" {
			return errors.New(name + " is required")
		}
	}
	return nil
}
