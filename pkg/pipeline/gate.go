package pipeline

// Decision is the confidence gate's verdict. The gate is the only path from
// retrieval to the generation provider.
type Decision string

const (
	DecisionExtractive   Decision = "EXTRACTIVE"
	DecisionLLM          Decision = "LLM"
	DecisionLLMThenAudit Decision = "LLM_THEN_AUDIT"
)

// gateRecord is the evidence payload for the gate stage.
type gateRecord struct {
	Confidence float64  `json:"confidence"`
	Threshold  float64  `json:"threshold"`
	Mode       Mode     `json:"mode"`
	Decision   Decision `json:"decision"`
	Reason     string   `json:"reason,omitempty"`
}

// decide maps retrieval confidence and mode to a gate decision. Unsafe
// intents never reach the gate; they are refused at triage.
func decide(confidence, threshold float64, mode Mode, strictDefault bool) gateRecord {
	rec := gateRecord{Confidence: confidence, Threshold: threshold, Mode: mode}

	if mode == ModeExtractiveOnly {
		rec.Decision = DecisionExtractive
		rec.Reason = ReasonExtractiveOnly
		return rec
	}
	if confidence < threshold {
		rec.Decision = DecisionExtractive
		rec.Reason = ReasonLowConfidence
		return rec
	}
	strict := strictDefault
	if mode == ModeStrict {
		strict = true
	}
	if strict {
		rec.Decision = DecisionLLMThenAudit
	} else {
		rec.Decision = DecisionLLM
	}
	return rec
}
