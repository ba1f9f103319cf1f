package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/ai"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/ontology"
)

type mentionResponse struct {
	Mentions []mentionItem `json:"mentions" jsonschema:"description=Distinct entity mentions in the passage"`
}

type mentionItem struct {
	Text string `json:"text" jsonschema:"description=The mention copied verbatim from the passage"`
}

type typingResponse struct {
	Entities []typedItem `json:"entities"`
}

type typedItem struct {
	Text     string   `json:"text" jsonschema:"description=The mention text"`
	ClassIDs []string `json:"class_ids" jsonschema:"description=Ontology class identifiers of the mention"`
}

type relationResponse struct {
	Relations []relationItem `json:"relations"`
}

type relationItem struct {
	Subject       string  `json:"subject" jsonschema:"description=Subject entity text"`
	Predicate     string  `json:"predicate" jsonschema:"description=Property identifier"`
	ObjectEntity  string  `json:"object_entity" jsonschema:"description=Object entity text or empty"`
	ObjectLiteral string  `json:"object_literal" jsonschema:"description=Literal object value or empty"`
	Evidence      string  `json:"evidence" jsonschema:"description=Verbatim passage text supporting the relation"`
	Confidence    float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

// Mention is a surface form found in a unit, with one span per occurrence
// relative to the unit text.
type Mention struct {
	Text  string
	Spans []span
}

// TypedMention is a mention with the ontology classes assigned to it.
type TypedMention struct {
	Mention
	ClassIDs []string
}

// ScopedEntity is a typed mention with the properties it may use as
// relation subject.
type ScopedEntity struct {
	TypedMention
	Properties []ontology.PropertyDefinition
}

// CandidateRelation is a relation between scoped entities with its evidence
// span relative to the unit text.
type CandidateRelation struct {
	Subject    string
	Predicate  string
	Object     common.RelationObject
	Evidence   span
	Confidence float64
}

type extractor struct {
	gen      ai.StructuredGenerator
	index    *ontology.KnowledgeIndex
	backoff  util.Backoff
	tenantID string
	now      func() time.Time
}

// stageError records which stage failed after how many attempts.
type stageError struct {
	stage    string
	attempts int
	err      error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.stage, e.attempts, e.err)
}

func (e *stageError) Unwrap() error { return e.err }

// callStage performs one structured call with retries. Every attempt
// decodes into a fresh value; validate turns semantic problems into
// *ai.SchemaValidationError so they are retried like decoding failures.
func callStage[T any](
	ctx context.Context,
	x *extractor,
	stage string,
	description string,
	prompt string,
	validate func(*T) error,
	opts ...ai.GenerateOption,
) (*T, int, error) {
	opts = append([]ai.GenerateOption{ai.WithSystemPrompts(ai.ExtractionSystemPrompt)}, opts...)
	cfg := x.backoff
	cfg.Hint = ai.RetryAfter

	out, attempts, err := util.RetryBackoff(ctx, cfg, ai.IsRetryable, func(ctx context.Context) (*T, error) {
		out := new(T)
		if err := x.gen.GenerateCompletionWithFormat(ctx, stage, description, prompt, out, opts...); err != nil {
			return nil, err
		}
		if validate != nil {
			if err := validate(out); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, attempts, &stageError{stage: stage, attempts: attempts, err: err}
	}
	return out, attempts, nil
}

// extractUnit runs the four stages on one unit and assembles its fragment.
// Failures yield an empty fragment and a failed ChunkResult.
func (x *extractor) extractUnit(ctx context.Context, doc common.Document, unit common.Unit) (common.KnowledgeGraph, ChunkResult) {
	res := ChunkResult{
		DocumentID: doc.ID,
		UnitID:     unit.ID,
		Index:      unit.Index,
		Start:      unit.Start,
		End:        unit.End,
	}
	empty := common.NewKnowledgeGraph(x.tenantID)
	fail := func(err error) (common.KnowledgeGraph, ChunkResult) {
		res.Err = err
		res.Reason = err.Error()
		if se, ok := err.(*stageError); ok {
			res.Stage = se.stage
		}
		return empty, res
	}

	if strings.TrimSpace(unit.Text) == "" {
		res.Succeeded = true
		return empty, res
	}

	mentions, n, err := x.detectMentions(ctx, unit)
	res.Attempts += n
	if err != nil {
		return fail(err)
	}
	if len(mentions) == 0 {
		res.Succeeded = true
		return empty, res
	}

	typed, n, err := x.typeMentions(ctx, unit, mentions)
	res.Attempts += n
	if err != nil {
		return fail(err)
	}

	scoped := x.scopeProperties(typed)

	relations, n, err := x.extractRelations(ctx, unit, scoped)
	res.Attempts += n
	if err != nil {
		return fail(err)
	}

	fragment := x.assemble(doc, unit, scoped, relations)
	res.Succeeded = true
	res.Entities = len(fragment.Entities)
	res.Relations = len(fragment.Relations)
	return fragment, res
}

// detectMentions asks for mentions and resolves each one to its
// occurrences in the unit. Mentions that do not occur are dropped.
func (x *extractor) detectMentions(ctx context.Context, unit common.Unit) ([]Mention, int, error) {
	prompt := fmt.Sprintf(ai.MentionPrompt, x.catalogue(false), unit.Text)

	out, attempts, err := callStage[mentionResponse](ctx, x, StageMentions, "Entity mentions found in the passage", prompt, nil)
	if err != nil {
		return nil, attempts, err
	}

	var mentions []Mention
	seen := map[string]bool{}
	for _, m := range out.Mentions {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		spans := findOccurrences(unit.Text, text)
		if len(spans) == 0 {
			logger.Debug("[Extract] Dropping mention not found in unit", "mention", text, "unit", unit.Index)
			continue
		}
		text = unit.Text[spans[0].start:spans[0].end]
		if seen[text] {
			continue
		}
		seen[text] = true
		mentions = append(mentions, Mention{Text: text, Spans: spans})
	}
	return mentions, attempts, nil
}

// typeMentions assigns classes to mentions. The response schema only admits
// known mention texts and class identifiers, and responses outside of them
// fail validation.
func (x *extractor) typeMentions(ctx context.Context, unit common.Unit, mentions []Mention) ([]TypedMention, int, error) {
	texts := make([]string, 0, len(mentions))
	byText := make(map[string]Mention, len(mentions))
	for _, m := range mentions {
		texts = append(texts, m.Text)
		byText[m.Text] = m
	}

	schema := ai.GenerateSchema(&typingResponse{})
	ai.RestrictEnum(schema, []string{"entities", "text"}, texts)
	ai.RestrictEnum(schema, []string{"entities", "class_ids"}, x.index.ClassIDs())

	mentionJSON, err := json.Marshal(texts)
	if err != nil {
		return nil, 0, err
	}
	prompt := fmt.Sprintf(ai.TypingPrompt, x.catalogue(true), unit.Text, string(mentionJSON))

	validate := func(out *typingResponse) error {
		for _, e := range out.Entities {
			if _, ok := byText[e.Text]; !ok {
				return &ai.SchemaValidationError{Schema: StageTyping, Reason: fmt.Sprintf("unknown mention %q", e.Text)}
			}
			for _, c := range e.ClassIDs {
				if !x.index.Has(c) {
					return &ai.SchemaValidationError{Schema: StageTyping, Reason: fmt.Sprintf("unknown class %q", c)}
				}
			}
		}
		return nil
	}

	out, attempts, err := callStage(ctx, x, StageTyping, "Ontology classes of each mention", prompt, validate,
		ai.WithSchema(schema),
	)
	if err != nil {
		return nil, attempts, err
	}

	classes := map[string][]string{}
	for _, e := range out.Entities {
		for _, c := range e.ClassIDs {
			if !slices.Contains(classes[e.Text], c) {
				classes[e.Text] = append(classes[e.Text], c)
			}
		}
	}

	var typed []TypedMention
	for _, m := range mentions {
		ids := classes[m.Text]
		if len(ids) == 0 {
			continue
		}
		slices.Sort(ids)
		typed = append(typed, TypedMention{Mention: m, ClassIDs: ids})
	}
	return typed, attempts, nil
}

// scopeProperties looks up the properties valid for each typed mention.
func (x *extractor) scopeProperties(typed []TypedMention) []ScopedEntity {
	out := make([]ScopedEntity, 0, len(typed))
	for _, t := range typed {
		out = append(out, ScopedEntity{
			TypedMention: t,
			Properties:   x.index.PropertiesFor(t.ClassIDs...),
		})
	}
	return out
}

// extractRelations asks for relations between the scoped entities. Subjects
// and predicates are restricted by the schema; relations that use a property
// outside the subject's scope or an object outside the property's range are
// dropped.
func (x *extractor) extractRelations(ctx context.Context, unit common.Unit, scoped []ScopedEntity) ([]CandidateRelation, int, error) {
	bySubject := make(map[string]ScopedEntity, len(scoped))
	var subjects, predicates []string
	for _, s := range scoped {
		bySubject[s.Text] = s
		if len(s.Properties) == 0 {
			continue
		}
		subjects = append(subjects, s.Text)
		for _, p := range s.Properties {
			if !slices.Contains(predicates, p.ID) {
				predicates = append(predicates, p.ID)
			}
		}
	}
	if len(subjects) == 0 {
		return nil, 0, nil
	}

	schema := ai.GenerateSchema(&relationResponse{})
	ai.RestrictEnum(schema, []string{"relations", "subject"}, subjects)
	ai.RestrictEnum(schema, []string{"relations", "predicate"}, predicates)

	prompt := fmt.Sprintf(ai.RelationPrompt, x.describeScope(scoped), unit.Text)

	validate := func(out *relationResponse) error {
		for _, r := range out.Relations {
			if !slices.Contains(subjects, r.Subject) {
				return &ai.SchemaValidationError{Schema: StageRelations, Reason: fmt.Sprintf("unknown subject %q", r.Subject)}
			}
			if !slices.Contains(predicates, r.Predicate) {
				return &ai.SchemaValidationError{Schema: StageRelations, Reason: fmt.Sprintf("unknown predicate %q", r.Predicate)}
			}
		}
		return nil
	}

	out, attempts, err := callStage(ctx, x, StageRelations, "Relations stated in the passage", prompt, validate,
		ai.WithSchema(schema),
	)
	if err != nil {
		return nil, attempts, err
	}

	var relations []CandidateRelation
	for _, r := range out.Relations {
		subject := bySubject[r.Subject]
		prop, ok := findProperty(subject.Properties, r.Predicate)
		if !ok {
			logger.Debug("[Extract] Dropping relation outside subject scope", "subject", r.Subject, "predicate", r.Predicate)
			continue
		}

		var object common.RelationObject
		switch {
		case strings.TrimSpace(r.ObjectEntity) != "":
			target, ok := bySubject[strings.TrimSpace(r.ObjectEntity)]
			if !ok || prop.Datatype || !prop.RangeAccepts(target.ClassIDs) || target.Text == subject.Text {
				logger.Debug("[Extract] Dropping relation with invalid object", "subject", r.Subject, "predicate", r.Predicate, "object", r.ObjectEntity)
				continue
			}
			object = common.EntityRef(target.Text)
		case strings.TrimSpace(r.ObjectLiteral) != "":
			object = common.Literal(strings.TrimSpace(r.ObjectLiteral))
		default:
			continue
		}

		relations = append(relations, CandidateRelation{
			Subject:    subject.Text,
			Predicate:  prop.ID,
			Object:     object,
			Evidence:   locateEvidence(unit.Text, r.Evidence, subject.Spans[0]),
			Confidence: clamp01(r.Confidence),
		})
	}
	return relations, attempts, nil
}

// assemble builds the fragment of a unit, translating unit offsets to
// document offsets.
func (x *extractor) assemble(doc common.Document, unit common.Unit, scoped []ScopedEntity, relations []CandidateRelation) common.KnowledgeGraph {
	g := common.NewKnowledgeGraph(x.tenantID)
	now := x.now()

	abs := func(s span, confidence float64) common.EvidenceSpan {
		return common.EvidenceSpan{
			Text:       unit.Text[s.start:s.end],
			Start:      unit.Start + s.start,
			End:        unit.Start + s.end,
			DocumentID: doc.ID,
			SourceURI:  doc.URI,
			Confidence: confidence,
		}
	}

	ids := make(map[string]string, len(scoped))
	for _, s := range scoped {
		id := EntityID(x.tenantID, s.Text)
		ids[s.Text] = id
		e := common.Entity{
			ID:          id,
			TenantID:    x.tenantID,
			SurfaceForm: s.Text,
			Types:       make(map[string]int, len(s.ClassIDs)),
			CreatedAt:   now,
		}
		for _, c := range s.ClassIDs {
			e.Types[c] = 1
		}
		for _, sp := range s.Spans {
			e.Evidence = append(e.Evidence, abs(sp, 1))
		}
		g = Merge(g, common.KnowledgeGraph{Entities: map[string]common.Entity{id: e}})
	}

	for _, c := range relations {
		object := c.Object
		if text, ok := object.EntityID(); ok {
			object = common.EntityRef(ids[text])
		}
		r := common.Relation{
			TenantID:   x.tenantID,
			SubjectID:  ids[c.Subject],
			Predicate:  c.Predicate,
			Object:     object,
			Evidence:   []common.EvidenceSpan{abs(c.Evidence, c.Confidence)},
			Confidence: c.Confidence,
		}
		r.ID = RelationID(x.tenantID, r.Signature())
		g = Merge(g, common.KnowledgeGraph{Relations: map[string]common.Relation{r.ID: r}})
	}
	return g
}

// catalogue renders the classes of the index for prompts.
func (x *extractor) catalogue(withIDs bool) string {
	var b strings.Builder
	for _, u := range x.index.Units() {
		if withIDs {
			fmt.Fprintf(&b, "- %s: %s", u.ClassID, u.Label)
		} else {
			fmt.Fprintf(&b, "- %s", u.Label)
		}
		if len(u.AltLabels) > 0 {
			fmt.Fprintf(&b, " (also: %s)", strings.Join(u.AltLabels, ", "))
		}
		if u.Comment != "" {
			fmt.Fprintf(&b, " - %s", u.Comment)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (x *extractor) describeScope(scoped []ScopedEntity) string {
	var b strings.Builder
	for _, s := range scoped {
		labels := make([]string, 0, len(s.ClassIDs))
		for _, c := range s.ClassIDs {
			labels = append(labels, x.index.Label(c))
		}
		fmt.Fprintf(&b, "- %q (%s)\n", s.Text, strings.Join(labels, ", "))
		for _, p := range s.Properties {
			target := "literal"
			if len(p.Range) > 0 {
				names := make([]string, 0, len(p.Range))
				for _, r := range p.Range {
					names = append(names, x.index.Label(r))
				}
				target = strings.Join(names, " | ")
			}
			fmt.Fprintf(&b, "  - %s (%s) -> %s\n", p.ID, x.index.Label(p.ID), target)
		}
	}
	return b.String()
}

func findProperty(props []ontology.PropertyDefinition, id string) (ontology.PropertyDefinition, bool) {
	for _, p := range props {
		if p.ID == id {
			return p, true
		}
	}
	return ontology.PropertyDefinition{}, false
}

// findOccurrences returns the non-overlapping occurrences of needle in
// text. It falls back to a case-insensitive search when the exact form does
// not occur.
func findOccurrences(text, needle string) []span {
	search := func(haystack, n string) []span {
		var out []span
		for off := 0; off <= len(haystack)-len(n); {
			i := strings.Index(haystack[off:], n)
			if i < 0 {
				break
			}
			out = append(out, span{start: off + i, end: off + i + len(n)})
			off += i + len(n)
		}
		return out
	}
	if out := search(text, needle); len(out) > 0 {
		return out
	}
	lowerText, lowerNeedle := strings.ToLower(text), strings.ToLower(needle)
	if len(lowerText) != len(text) || len(lowerNeedle) != len(needle) {
		return nil
	}
	return search(lowerText, lowerNeedle)
}

// locateEvidence finds the evidence quote in the unit. If the quote does not
// occur verbatim, the sentence containing the subject mention is used.
func locateEvidence(text, quote string, subject span) span {
	quote = strings.TrimSpace(quote)
	if quote != "" {
		if spans := findOccurrences(text, quote); len(spans) > 0 {
			best := spans[0]
			for _, s := range spans {
				if s.start <= subject.start && subject.end <= s.end {
					best = s
					break
				}
			}
			return best
		}
	}
	for _, seg := range splitIntoSegments(text) {
		if seg.start <= subject.start && subject.start < seg.end {
			return trimSpan(text, seg)
		}
	}
	return subject
}

func trimSpan(text string, s span) span {
	for s.start < s.end && isSpaceByte(text[s.start]) {
		s.start++
	}
	for s.end > s.start && isSpaceByte(text[s.end-1]) {
		s.end--
	}
	return s
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
