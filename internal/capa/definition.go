package capa

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"math/rand"
	"strconv"
	"strings"
)

// Definition is the immutable description of a problem, derived once from
// its XML for a given seed. Shuffle, answer-pool and mask permutations are
// applied at parse time, so a Definition is deterministic in (xml, seed).
type Definition struct {
	ProblemID   string
	Prefix      string
	Seed        int
	Responders  []Responder
	Inputs      []*InputField
	Solutions   map[string]string // show-answer key -> solution html
	DemandHints []string

	inputsByID map[string]*InputField
	nodes      []renderNode
}

// renderNode is one ordered fragment of the rendered problem: either raw
// passthrough HTML or a reference to an input field.
type renderNode struct {
	raw     string
	inputID string
}

// InputByID returns the declared input with the given id.
func (d *Definition) InputByID(id string) (*InputField, bool) {
	f, ok := d.inputsByID[id]
	return f, ok
}

// HasInput reports whether id is declared by the definition.
func (d *Definition) HasInput(id string) bool {
	_, ok := d.inputsByID[id]
	return ok
}

// SupportsRescore reports whether every responder can re-grade stored
// answers. Externally graded responses cannot.
func (d *Definition) SupportsRescore() bool {
	for _, r := range d.Responders {
		if !r.SupportsRescore() {
			return false
		}
	}
	return true
}

// responderFor returns the responder owning the given answer id.
func (d *Definition) responderFor(answerID string) (Responder, bool) {
	for _, r := range d.Responders {
		for _, id := range r.AnswerIDs() {
			if id == answerID {
				return r, true
			}
		}
	}
	return nil, false
}

// DummyDefinition builds a surrogate definition whose rendering shows a
// parse error prominently. Used in debug mode when the real definition is
// broken, so the learner state stays recoverable.
func DummyDefinition(problemID string, seed int, errMsg string) *Definition {
	return &Definition{
		ProblemID:  problemID,
		Prefix:     IDPrefix(problemID),
		Seed:       seed,
		Solutions:  map[string]string{},
		inputsByID: map[string]*InputField{},
		nodes: []renderNode{{raw: fmt.Sprintf(
			`<p class="error">Problem could not be loaded: %s</p>`, html.EscapeString(errMsg))}},
	}
}

// xnode is a generic parsed XML element.
type xnode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Inner    string     `xml:",innerxml"`
	Children []xnode    `xml:",any"`
	Text     string     `xml:",chardata"`
}

func (n *xnode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *xnode) boolAttr(name string) bool {
	v := strings.ToLower(n.attr(name))
	return v == "true" || v == "1" || v == "yes"
}

func (n *xnode) child(tag string) *xnode {
	for i := range n.Children {
		if n.Children[i].XMLName.Local == tag {
			return &n.Children[i]
		}
	}
	return nil
}

func (n *xnode) childAll(tag string) []*xnode {
	var out []*xnode
	for i := range n.Children {
		if n.Children[i].XMLName.Local == tag {
			out = append(out, &n.Children[i])
		}
	}
	return out
}

var inputTags = map[string]bool{
	"textline":      true,
	"textbox":       true,
	"choicegroup":   true,
	"checkboxgroup": true,
	"optioninput":   true,
}

// IDPrefix derives the answer-id prefix from an opaque problem location:
// the last path segment, with the full id as fallback.
func IDPrefix(problemID string) string {
	trimmed := strings.Trim(problemID, "/")
	if i := strings.LastIndexAny(trimmed, "/@"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return problemID
	}
	return trimmed
}

// ParseDefinition parses problem XML into a Definition for the given seed.
// Unknown response tags and malformed markup yield a *DefinitionError.
func ParseDefinition(rawXML []byte, problemID string, seed int) (*Definition, error) {
	def := &Definition{
		ProblemID:  problemID,
		Prefix:     IDPrefix(problemID),
		Seed:       seed,
		Solutions:  map[string]string{},
		inputsByID: map[string]*InputField{},
	}
	rng := rand.New(rand.NewSource(int64(seed)))

	dec := xml.NewDecoder(bytes.NewReader(rawXML))
	// locate the root <problem>
	var root xml.StartElement
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, &DefinitionError{Msg: "malformed problem XML", Err: err}
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != "problem" {
				return nil, &DefinitionError{Msg: fmt.Sprintf("expected <problem> root, got <%s>", se.Name.Local)}
			}
			root = se
			break
		}
	}
	_ = root

	responseIndex := 0
	solutionIndex := 0
	for {
		before := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &DefinitionError{Msg: "malformed problem XML", Err: err}
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "problem" {
				return def, nil
			}
		case xml.CharData:
			if s := string(t); strings.TrimSpace(s) != "" {
				def.nodes = append(def.nodes, renderNode{raw: s})
			}
		case xml.StartElement:
			tag := t.Name.Local
			switch {
			case strings.HasSuffix(tag, "response"):
				var n xnode
				if err := dec.DecodeElement(&n, &t); err != nil {
					return nil, &DefinitionError{Msg: fmt.Sprintf("malformed <%s>", tag), Err: err}
				}
				if err := def.addResponse(&n, responseIndex, rng); err != nil {
					return nil, err
				}
				responseIndex++
			case tag == "demandhint":
				var n xnode
				if err := dec.DecodeElement(&n, &t); err != nil {
					return nil, &DefinitionError{Msg: "malformed <demandhint>", Err: err}
				}
				for _, h := range n.childAll("hint") {
					def.DemandHints = append(def.DemandHints, strings.TrimSpace(h.Inner))
				}
			case tag == "solution":
				// answer text must never reach the render path
				var n xnode
				if err := dec.DecodeElement(&n, &t); err != nil {
					return nil, &DefinitionError{Msg: "malformed <solution>", Err: err}
				}
				solutionIndex++
				key := fmt.Sprintf("solution_%s_%d", def.Prefix, solutionIndex)
				def.Solutions[key] = strings.TrimSpace(n.Inner)
			default:
				// passthrough markup (<p>, <h3>, ...): keep the raw bytes
				if err := dec.Skip(); err != nil {
					return nil, &DefinitionError{Msg: fmt.Sprintf("malformed <%s>", tag), Err: err}
				}
				def.nodes = append(def.nodes, renderNode{raw: string(rawXML[before:dec.InputOffset()])})
			}
		}
	}
	return nil, &DefinitionError{Msg: "missing </problem>"}
}

// addResponse builds a responder and its inputs from one response element.
// Answer ids follow the <prefix>_<responseIndex+2>_<inputIndex+1> scheme.
func (d *Definition) addResponse(n *xnode, responseIndex int, rng *rand.Rand) error {
	tag := n.XMLName.Local

	var fields []*InputField
	inputIndex := 0
	for i := range n.Children {
		c := &n.Children[i]
		if !inputTags[c.XMLName.Local] {
			continue
		}
		id := fmt.Sprintf("%s_%d_%d", d.Prefix, responseIndex+2, inputIndex+1)
		inputIndex++
		f := &InputField{
			Tag:        c.XMLName.Local,
			ID:         id,
			Label:      c.attr("label"),
			GroupLabel: c.attr("group_label"),
			Size:       c.attr("size"),
		}
		if opts := c.attr("options"); opts != "" {
			for _, o := range strings.Split(opts, ",") {
				if s := strings.TrimSpace(o); s != "" {
					f.Options = append(f.Options, s)
				}
			}
		}
		fields = append(fields, f)
		d.Inputs = append(d.Inputs, f)
		d.inputsByID[id] = f
		d.nodes = append(d.nodes, renderNode{inputID: id})
	}
	if len(fields) == 0 {
		return &DefinitionError{Msg: fmt.Sprintf("<%s> declares no inputs", tag)}
	}
	if lbl := n.child("label"); lbl != nil && fields[0].Label == "" {
		fields[0].Label = strings.TrimSpace(lbl.Inner)
	}

	ids := make([]string, len(fields))
	for i, f := range fields {
		ids[i] = f.ID
	}
	base := baseResponder{tag: tag, answerIDs: ids}

	var resp Responder
	switch tag {
	case "stringresponse":
		r := &stringResponder{baseResponder: base}
		if a := n.attr("answer"); a != "" {
			r.answers = append(r.answers, a)
		}
		for _, extra := range n.childAll("additional_answer") {
			if a := extra.attr("answer"); a != "" {
				r.answers = append(r.answers, a)
			}
		}
		typ := n.attr("type")
		r.caseInsensitive = strings.Contains(typ, "ci")
		r.isRegexp = strings.Contains(typ, "regexp")
		if h := n.child("correcthint"); h != nil {
			r.correctHint = strings.TrimSpace(h.Inner)
		}
		resp = r
	case "numericalresponse":
		r := &numericalResponder{baseResponder: base, answerRaw: n.attr("answer")}
		v, err := strconv.ParseFloat(strings.TrimSpace(r.answerRaw), 64)
		if err != nil {
			return &DefinitionError{Msg: fmt.Sprintf("numericalresponse: bad answer %q", r.answerRaw), Err: err}
		}
		r.answer = v
		r.tolerance = n.attr("tolerance")
		if rp := n.child("responseparam"); rp != nil && rp.attr("type") == "tolerance" {
			r.tolerance = rp.attr("default")
		}
		resp = r
	case "optionresponse":
		r := &optionResponder{baseResponder: base}
		for i := range n.Children {
			c := &n.Children[i]
			if c.XMLName.Local == "optioninput" {
				r.options = fields[0].Options
				r.correct = c.attr("correct")
				break
			}
		}
		if r.correct == "" {
			return &DefinitionError{Msg: "optionresponse: missing correct option"}
		}
		resp = r
	case "multiplechoiceresponse":
		group := n.child("choicegroup")
		if group == nil {
			return &DefinitionError{Msg: "multiplechoiceresponse: missing <choicegroup>"}
		}
		choices, err := parseChoices(group)
		if err != nil {
			return err
		}
		r := &multipleChoiceResponder{baseResponder: base, unmask: map[string]string{}}
		pool := 0
		if p := group.attr("answer-pool"); p != "" {
			pool, err = strconv.Atoi(p)
			if err != nil || pool < 1 {
				return &DefinitionError{Msg: fmt.Sprintf("multiplechoiceresponse: bad answer-pool %q", p)}
			}
		}
		switch {
		case pool > 0:
			choices = sampleAnswerPool(choices, pool, rng)
			r.answerPool = true
		case group.boolAttr("shuffle"):
			rng.Shuffle(len(choices), func(i, j int) { choices[i], choices[j] = choices[j], choices[i] })
			r.shuffled = true
		}
		if group.boolAttr("masked") {
			r.masked = true
			choices = maskChoices(choices, r.unmask, rng)
		}
		r.choices = choices
		fields[0].Choices = choices
		resp = r
	case "choiceresponse":
		group := n.child("checkboxgroup")
		if group == nil {
			return &DefinitionError{Msg: "choiceresponse: missing <checkboxgroup>"}
		}
		choices, err := parseChoices(group)
		if err != nil {
			return err
		}
		r := &checkboxResponder{baseResponder: base, choices: choices}
		fields[0].Choices = choices
		resp = r
	case "coderesponse":
		r := &codeResponder{baseResponder: base, queueName: n.attr("queuename")}
		if r.queueName == "" {
			return &DefinitionError{Msg: "coderesponse: missing queuename"}
		}
		if cp := n.child("codeparam"); cp != nil {
			if gp := cp.child("grader_payload"); gp != nil {
				r.graderPayload = strings.TrimSpace(gp.Inner)
			}
		}
		resp = r
	default:
		return &DefinitionError{Msg: fmt.Sprintf("unknown response type <%s>", tag)}
	}

	if sol := n.child("solution"); sol != nil {
		d.Solutions["solution_"+ids[0]] = strings.TrimSpace(sol.Inner)
	}
	d.Responders = append(d.Responders, resp)
	return nil
}

func parseChoices(group *xnode) ([]Choice, error) {
	var out []Choice
	for i, c := range group.childAll("choice") {
		name := c.attr("name")
		if name == "" {
			name = fmt.Sprintf("choice_%d", i)
		}
		out = append(out, Choice{
			Name:    name,
			Text:    strings.TrimSpace(c.Inner),
			Correct: c.boolAttr("correct"),
		})
	}
	if len(out) == 0 {
		return nil, &DefinitionError{Msg: "choice group declares no choices"}
	}
	return out, nil
}

// sampleAnswerPool keeps one seeded-random correct choice plus enough
// seeded-random incorrect ones to reach n, then shuffles the result.
func sampleAnswerPool(choices []Choice, n int, rng *rand.Rand) []Choice {
	var correct, incorrect []Choice
	for _, c := range choices {
		if c.Correct {
			correct = append(correct, c)
		} else {
			incorrect = append(incorrect, c)
		}
	}
	if len(correct) == 0 || n >= len(choices) {
		return choices
	}
	out := []Choice{correct[rng.Intn(len(correct))]}
	rng.Shuffle(len(incorrect), func(i, j int) { incorrect[i], incorrect[j] = incorrect[j], incorrect[i] })
	for i := 0; i < n-1 && i < len(incorrect); i++ {
		out = append(out, incorrect[i])
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// maskChoices renames choices mask_0..mask_k in a seeded permutation so the
// client cannot infer the authored order, recording the reverse mapping.
func maskChoices(choices []Choice, unmask map[string]string, rng *rand.Rand) []Choice {
	perm := rng.Perm(len(choices))
	out := make([]Choice, len(choices))
	for i, c := range choices {
		masked := fmt.Sprintf("mask_%d", perm[i])
		unmask[masked] = c.Name
		c.Name = masked
		out[i] = c
	}
	return out
}
