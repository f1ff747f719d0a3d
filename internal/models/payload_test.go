package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePayload(t *testing.T) {
	valid := map[string]any{
		JobAnalyzeKeyword:    AnalyzeKeywordPayload{KeywordID: "kw1", Term: "hiking boots"},
		JobGenerateBrief:     GenerateBriefPayload{KeywordID: "kw1", Term: "hiking boots"},
		JobAnalyzeCompetitor: AnalyzeCompetitorPayload{CompetitorID: "c1", Domain: "rival.example"},
		JobPublish:           PublishPayload{BriefID: "b1"},
		JobRequestRefund:     RequestRefundPayload{RefundID: "r1", PaymentRef: "pay_1"},
	}
	for jobType, payload := range valid {
		raw, err := EncodePayload(payload)
		require.NoError(t, err)
		require.NoError(t, ValidatePayload(jobType, raw), "type %s", jobType)
	}

	invalid := map[string][]byte{
		JobAnalyzeKeyword:    []byte(`{"term":"missing id"}`),
		JobGenerateBrief:     []byte(`{"keyword_id":"kw1"}`),
		JobAnalyzeCompetitor: []byte(`{"domain":""}`),
		JobPublish:           []byte(`{}`),
		JobRequestRefund:     []byte(`{"refund_id":"r1"}`),
	}
	for jobType, raw := range invalid {
		require.Error(t, ValidatePayload(jobType, raw), "type %s", jobType)
	}

	require.Error(t, ValidatePayload("mystery_type", []byte(`{}`)))
	require.Error(t, ValidatePayload(JobPublish, []byte(`not json`)))
}

func TestJobTerminal(t *testing.T) {
	require.False(t, JobTerminal(JobPending))
	require.False(t, JobTerminal(JobProcessing))
	require.True(t, JobTerminal(JobDone))
	require.True(t, JobTerminal(JobFailed))
}
