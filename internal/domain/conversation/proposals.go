package conversation

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// ExtractCommandProposals pulls executable proposals out of an actions
// reply. The typed commands field wins when it decodes; otherwise fenced
// JSON blocks in the text are tried, either as a list of proposals or as
// an object with a "commands" list.
//
// Malformed input never fails the reply. The proposals decoded so far are
// returned (an empty, non-nil slice when none) together with a
// parse-degradation error the caller may log and display.
func ExtractCommandProposals(raw string, typed json.RawMessage) ([]types.CommandProposal, error) {
	const op = "extractCommandProposals"

	var degraded []string
	if present(typed) {
		proposals, err := decodeProposals(typed)
		if err == nil {
			return proposals, nil
		}
		degraded = append(degraded, "commands field: "+err.Error())
	}

	proposals := []types.CommandProposal{}
	for _, seg := range ParseReply(raw) {
		if seg.Kind != SegmentCode || !jsonBlock(seg) {
			continue
		}
		found, err := decodeProposals([]byte(seg.Payload))
		if err != nil {
			degraded = append(degraded, "json block: "+err.Error())
			continue
		}
		proposals = append(proposals, found...)
	}

	if len(degraded) > 0 {
		return proposals, errs.E(errs.KindParseDegradation, op, strings.Join(degraded, "; "), nil)
	}
	return proposals, nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func jsonBlock(seg Segment) bool {
	switch strings.ToLower(seg.Language) {
	case "json":
		return true
	case "":
		p := strings.TrimSpace(seg.Payload)
		return strings.HasPrefix(p, "[") || strings.HasPrefix(p, "{")
	}
	return false
}

// decodeProposals accepts [{command, description}], ["cmd", ...] or
// {"commands": [...]}. Entries without a command are dropped.
func decodeProposals(data []byte) ([]types.CommandProposal, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Commands json.RawMessage `json:"commands"`
		}
		if err := sonic.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		if !present(wrapped.Commands) {
			return []types.CommandProposal{}, nil
		}
		data = bytes.TrimSpace(wrapped.Commands)
	}

	var list []types.CommandProposal
	if err := sonic.Unmarshal(data, &list); err != nil {
		var plain []string
		if sonic.Unmarshal(data, &plain) != nil {
			return nil, err
		}
		for _, cmd := range plain {
			list = append(list, types.CommandProposal{Command: cmd})
		}
	}

	out := make([]types.CommandProposal, 0, len(list))
	for _, p := range list {
		p.Command = strings.TrimSpace(p.Command)
		if p.Command == "" {
			continue
		}
		p.Description = strings.TrimSpace(p.Description)
		out = append(out, p)
	}
	return out, nil
}
