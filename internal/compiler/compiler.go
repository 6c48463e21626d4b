package compiler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/repo"
)

// Compiler turns a WorkflowDraft into a WorkflowInstance.
type Compiler struct {
	metas    repo.FileMetaRepo
	storages repo.FileStorageRepo
}

// New builds a Compiler. metas/storages are consulted to validate that file
// slots reference an already-uploaded, committed FileMeta.
func New(metas repo.FileMetaRepo, storages repo.FileStorageRepo) *Compiler {
	return &Compiler{metas: metas, storages: storages}
}

// Compile validates draft and expands it into a Pending WorkflowInstance.
// Batch-carrying nodes are fanned out into concrete batch children; each
// child's output slots get fresh prepared_content_ids.
func (c *Compiler) Compile(ctx context.Context, draft *domain.WorkflowDraft, userID string) (*domain.WorkflowInstance, error) {
	if err := c.validate(ctx, draft); err != nil {
		return nil, err
	}

	fanout, err := computeFanout(draft.Spec.Nodes)
	if err != nil {
		return nil, err
	}

	var nodes []domain.NodeSpec
	var relations []domain.NodeRelation
	childIDs := make(map[string][]string, len(draft.Spec.Nodes))

	for _, dn := range draft.Spec.Nodes {
		n := fanout[dn.ID]
		ids := make([]string, 0, n)
		for i := 0; i < n; i++ {
			spec, id := materialize(dn, i, n)
			nodes = append(nodes, spec)
			ids = append(ids, id)
		}
		childIDs[dn.ID] = ids
	}

	for _, e := range draft.Spec.Edges {
		relations = append(relations, expandEdge(e, childIDs[e.FromNode], childIDs[e.ToNode])...)
	}

	return &domain.WorkflowInstance{
		ID:      uuid.NewString(),
		UserID:  userID,
		DraftID: draft.ID,
		Status:  domain.FlowPending,
		Spec: domain.InstanceSpec{
			Nodes:     nodes,
			Relations: relations,
		},
		LastModifiedTime: 0,
		CreatedAt:        time.Now(),
	}, nil
}

// --- validation ---

func (c *Compiler) validate(ctx context.Context, draft *domain.WorkflowDraft) error {
	nodes := make(map[string]domain.DraftNode, len(draft.Spec.Nodes))
	for _, n := range draft.Spec.Nodes {
		nodes[n.ID] = n
	}

	for _, e := range draft.Spec.Edges {
		from, ok := nodes[e.FromNode]
		if !ok {
			return errs.NewInvalid(fmt.Sprintf("edge references unknown node %s", e.FromNode))
		}
		to, ok := nodes[e.ToNode]
		if !ok {
			return errs.NewInvalid(fmt.Sprintf("edge references unknown node %s", e.ToNode))
		}
		fromSlot, ok := findSlot(from.OutputSlots, e.FromSlot)
		if !ok {
			return errs.NewInvalid(fmt.Sprintf("node %s has no output slot %s", e.FromNode, e.FromSlot))
		}
		toSlot, ok := findSlot(to.InputSlots, e.ToSlot)
		if !ok {
			return errs.NewInvalid(fmt.Sprintf("node %s has no input slot %s", e.ToNode, e.ToSlot))
		}
		if fromSlot.Kind != toSlot.Kind {
			return errs.NewInvalid(fmt.Sprintf("slot kind mismatch on edge %s.%s -> %s.%s", e.FromNode, e.FromSlot, e.ToNode, e.ToSlot))
		}
	}

	depended := make(map[string]bool, len(draft.Spec.Edges))
	for _, e := range draft.Spec.Edges {
		depended[e.ToNode+"/"+e.ToSlot] = true
	}

	for _, n := range draft.Spec.Nodes {
		for _, s := range n.InputSlots {
			hasUpstream := depended[n.ID+"/"+s.Name]
			if hasUpstream && s.Contents != "" {
				return errs.NewInvalid(fmt.Sprintf("slot %s.%s has both an upstream dependency and inline contents", n.ID, s.Name))
			}
			if !hasUpstream && s.Contents == "" && s.Kind == domain.SlotText {
				return errs.NewInvalid(fmt.Sprintf("slot %s.%s has no upstream dependency and no inline contents", n.ID, s.Name))
			}
			if s.Kind == domain.SlotFile && s.FileMeta != "" {
				if err := c.validateFileSlot(ctx, n.ID, s); err != nil {
					return err
				}
			}
		}

		if err := validateBatchConsistency(n); err != nil {
			return err
		}

		if n.QueueSelector.Kind == "" {
			return errs.NewInvalid(fmt.Sprintf("node %s declares no queue selector", n.ID))
		}
	}

	return nil
}

func (c *Compiler) validateFileSlot(ctx context.Context, nodeID string, s domain.SlotSpec) error {
	meta, err := c.metas.Get(ctx, s.FileMeta)
	if err != nil {
		return errs.NewInvalid(fmt.Sprintf("node %s slot %s references unknown file meta %s", nodeID, s.Name, s.FileMeta))
	}
	storages, err := c.storages.ListByMeta(ctx, meta.ID)
	if err != nil || len(storages) == 0 {
		return errs.NewInvalid(fmt.Sprintf("node %s slot %s references a file meta with no committed storage", nodeID, s.Name))
	}
	return nil
}

func findSlot(slots []domain.SlotSpec, name string) (domain.SlotSpec, bool) {
	for _, s := range slots {
		if s.Name == name {
			return s, true
		}
	}
	return domain.SlotSpec{}, false
}

// validateBatchConsistency checks the shape rules for a node's batch
// inputs. A node's
// "batch slot" is whichever input slot actually carries the multi-valued
// contents (comma-separated for OriginalBatch, a scan target for
// MatchRegex) — the distilled spec names the constraint per-slot but this
// repo models Batch as a per-node strategy, so the check runs over all of
// the node's input slots looking for the one that fits.
func validateBatchConsistency(n domain.DraftNode) error {
	if n.Batch == nil {
		return nil
	}
	switch n.Batch.Kind {
	case domain.BatchMatchRegex:
		count := 0
		for _, s := range n.InputSlots {
			if s.Contents != "" {
				count++
			}
		}
		if count != 1 {
			return errs.NewInvalid(fmt.Sprintf("node %s: MatchRegex batch requires exactly one input slot with contents, found %d", n.ID, count))
		}
		if _, err := regexp.Compile(n.Batch.Regex); err != nil {
			return errs.NewInvalid(fmt.Sprintf("node %s: invalid batch regex: %v", n.ID, err))
		}
	case domain.BatchOriginalBatch:
		ok := false
		for _, s := range n.InputSlots {
			if s.Kind == domain.SlotText && s.Contents != "" && len(strings.Split(s.Contents, ",")) >= 2 {
				ok = true
			}
		}
		if !ok {
			return errs.NewInvalid(fmt.Sprintf("node %s: OriginalBatch requires an input slot with at least two comma-separated values", n.ID))
		}
	case domain.BatchFromBatchOutputs:
		if n.Batch.From.Node == "" || n.Batch.From.Slot == "" {
			return errs.NewInvalid(fmt.Sprintf("node %s: FromBatchOutputs requires a source node and slot", n.ID))
		}
	default:
		return errs.NewInvalid(fmt.Sprintf("node %s: unknown batch kind %q", n.ID, n.Batch.Kind))
	}
	return nil
}

// --- fan-out ---

// computeFanout resolves every node's batch child count, including
// FromBatchOutputs nodes whose count mirrors a dependency's count.
func computeFanout(nodes []domain.DraftNode) (map[string]int, error) {
	byID := make(map[string]domain.DraftNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	result := make(map[string]int, len(nodes))
	visiting := make(map[string]bool, len(nodes))

	var resolve func(id string) (int, error)
	resolve = func(id string) (int, error) {
		if n, ok := result[id]; ok {
			return n, nil
		}
		if visiting[id] {
			return 0, errs.NewInvalid(fmt.Sprintf("cyclic batch dependency at node %s", id))
		}
		dn, ok := byID[id]
		if !ok {
			return 0, errs.NewInvalid(fmt.Sprintf("batch dependency references unknown node %s", id))
		}

		visiting[id] = true
		n, err := fanoutForNode(dn, resolve)
		visiting[id] = false
		if err != nil {
			return 0, err
		}
		result[id] = n
		return n, nil
	}

	for _, n := range nodes {
		if _, err := resolve(n.ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func fanoutForNode(dn domain.DraftNode, depFanout func(string) (int, error)) (int, error) {
	if dn.Batch == nil {
		return 1, nil
	}
	switch dn.Batch.Kind {
	case domain.BatchOriginalBatch:
		return originalBatchCount(dn), nil
	case domain.BatchMatchRegex:
		return matchRegexCount(dn)
	case domain.BatchFromBatchOutputs:
		return depFanout(dn.Batch.From.Node)
	default:
		return 0, errs.NewInvalid(fmt.Sprintf("unknown batch kind %q on node %s", dn.Batch.Kind, dn.ID))
	}
}

func originalBatchCount(dn domain.DraftNode) int {
	n := 1
	for _, s := range dn.InputSlots {
		if s.Kind == domain.SlotText && strings.Contains(s.Contents, ",") {
			n *= len(strings.Split(s.Contents, ","))
		}
	}
	return n
}

func matchRegexCount(dn domain.DraftNode) (int, error) {
	var text string
	for _, s := range dn.InputSlots {
		if s.Contents != "" {
			text = s.Contents
			break
		}
	}
	re, err := regexp.Compile(dn.Batch.Regex)
	if err != nil {
		return 0, errs.NewInvalid(fmt.Sprintf("invalid regex on node %s: %v", dn.ID, err))
	}
	return len(re.FindAllString(text, -1)), nil
}

// --- materialization ---

func materialize(dn domain.DraftNode, index, total int) (domain.NodeSpec, string) {
	id := uuid.NewString()

	batchParentID := ""
	if total > 1 {
		batchParentID = dn.ID
	}

	inputs := make([]domain.ResolvedSlot, 0, len(dn.InputSlots))
	for _, s := range dn.InputSlots {
		inputs = append(inputs, resolveInputSlot(dn, s, index, total))
	}

	outputs := make([]domain.ResolvedSlot, 0, len(dn.OutputSlots))
	for _, s := range dn.OutputSlots {
		outputs = append(outputs, domain.ResolvedSlot{
			Name:              s.Name,
			Kind:              s.Kind,
			PreparedContentID: uuid.NewString(),
		})
	}

	return domain.NodeSpec{
		NodeID:        id,
		Kind:          dn.Kind,
		Name:          dn.Name,
		BatchParentID: batchParentID,
		QueueSelector: dn.QueueSelector,
		InputSlots:    inputs,
		OutputSlots:   outputs,
		SoftwarePkgID: dn.SoftwarePkgID,
		UsecasePkgID:  dn.UsecasePkgID,
		ScriptInfo:    dn.ScriptInfo,
		WebhookURL:    dn.WebhookURL,
		ResourceNeeds: dn.ScriptInfo.Resources,
	}, id
}

func resolveInputSlot(dn domain.DraftNode, s domain.SlotSpec, index, total int) domain.ResolvedSlot {
	contents := s.Contents

	if total > 1 && dn.Batch != nil {
		switch dn.Batch.Kind {
		case domain.BatchOriginalBatch:
			if s.Kind == domain.SlotText && strings.Contains(contents, ",") {
				parts := strings.Split(contents, ",")
				contents = parts[index%len(parts)]
			}
		case domain.BatchMatchRegex:
			if contents != "" {
				if re, err := regexp.Compile(dn.Batch.Regex); err == nil {
					if matches := re.FindAllString(contents, -1); index < len(matches) {
						contents = matches[index]
					}
				}
			}
		}
		if dn.Batch.Filler != nil {
			contents = applyFiller(*dn.Batch.Filler, contents, index)
		}
	}

	return domain.ResolvedSlot{
		Name:       s.Name,
		Kind:       s.Kind,
		Contents:   contents,
		FileMetaID: s.FileMeta,
	}
}

// applyFiller renders a filler value for the given batch index and splices
// it into contents at the "{n}" placeholder.
func applyFiller(f domain.Filler, contents string, index int) string {
	var rendered string
	switch f.Kind {
	case domain.FillerAutoNumber:
		step := f.Step
		if step == 0 {
			step = 1
		}
		rendered = strconv.Itoa(f.Start + index*step)
	case domain.FillerEnumeration:
		if len(f.Items) == 0 {
			return contents
		}
		rendered = f.Items[index%len(f.Items)]
	default:
		return contents
	}
	return strings.ReplaceAll(contents, "{n}", rendered)
}

func expandEdge(e domain.DraftEdge, fromIDs, toIDs []string) []domain.NodeRelation {
	var out []domain.NodeRelation
	switch {
	case len(fromIDs) == len(toIDs):
		for i := range fromIDs {
			out = append(out, domain.NodeRelation{FromNode: fromIDs[i], FromSlot: e.FromSlot, ToNode: toIDs[i], ToSlot: e.ToSlot})
		}
	case len(fromIDs) == 1:
		for _, to := range toIDs {
			out = append(out, domain.NodeRelation{FromNode: fromIDs[0], FromSlot: e.FromSlot, ToNode: to, ToSlot: e.ToSlot})
		}
	case len(toIDs) == 1:
		for _, from := range fromIDs {
			out = append(out, domain.NodeRelation{FromNode: from, FromSlot: e.FromSlot, ToNode: toIDs[0], ToSlot: e.ToSlot})
		}
	default:
		for _, from := range fromIDs {
			for _, to := range toIDs {
				out = append(out, domain.NodeRelation{FromNode: from, FromSlot: e.FromSlot, ToNode: to, ToSlot: e.ToSlot})
			}
		}
	}
	return out
}
