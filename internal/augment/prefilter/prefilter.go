package prefilter

import "github.com/tsawler/prose/v3"

// Filter decides whether an exchange's user turn carries enough signal
// to be worth a remote augmentation POST, mirroring
// cmd/memory-service/main.go's shouldExtract gate: skip deep extraction
// when there's no named entity and the turn reads as a pure backchannel
// or greeting.
type Filter struct{}

// New builds a Filter. It holds no state — prose.NewDocument is cheap
// enough to call per turn and carries its own model data.
func New() *Filter { return &Filter{} }

// ShouldAugment reports whether userTurn is worth a remote augmentation
// call: it must not be a pure backchannel/greeting, or it must mention at
// least one named entity that prose can detect.
func (f *Filter) ShouldAugment(userTurn string) bool {
	if !IsLowInfo(userTurn) {
		return true
	}
	doc, err := prose.NewDocument(userTurn)
	if err != nil {
		return false
	}
	return len(doc.Entities()) > 0
}
