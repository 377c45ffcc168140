package model

// ExtractedSignals is the JSON shape the signal extraction prompt asks for.
type ExtractedSignals struct {
	Topics    []string `json:"topics"`
	Questions []string `json:"questions"`
}

// ChangeDescription is the JSON shape of an LLM-written changelog line.
type ChangeDescription struct {
	Description string `json:"description"`
}
