package capa

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// Choice is one selectable option of a choicegroup/checkboxgroup, in the
// order it is displayed to the learner (after shuffle/pool/mask).
type Choice struct {
	Name    string // stable name, e.g. "choice_2" or "mask_0"
	Text    string // display HTML
	Correct bool
}

// InputField is one declared input of a problem. Tag decides rendering and
// ajax behavior.
type InputField struct {
	Tag        string // textline | textbox | choicegroup | checkboxgroup | optioninput
	ID         string
	Label      string
	GroupLabel string
	Size       string
	Options    []string // optioninput
	Choices    []Choice // choicegroup/checkboxgroup, display order
}

// RenderHTML renders the input with its current value and status. done
// controls whether correctness styling is shown.
func (f *InputField) RenderHTML(value any, entry CorrectMapEntry, graded bool) string {
	status := "unanswered"
	if graded && entry.Correctness != "" {
		status = entry.Correctness
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="capa_input %s" id="status_%s">`, statusClass(status), html.EscapeString(f.ID))
	if f.Label != "" {
		fmt.Fprintf(&b, `<label for="input_%s">%s</label>`, html.EscapeString(f.ID), html.EscapeString(f.Label))
	}
	switch f.Tag {
	case "textline":
		size := f.Size
		if size == "" {
			size = "20"
		}
		fmt.Fprintf(&b, `<input type="text" name="input_%s" id="input_%s" size="%s" value="%s"/>`,
			html.EscapeString(f.ID), html.EscapeString(f.ID), html.EscapeString(size), html.EscapeString(stringValue(value)))
	case "textbox":
		fmt.Fprintf(&b, `<textarea name="input_%s" id="input_%s">%s</textarea>`,
			html.EscapeString(f.ID), html.EscapeString(f.ID), html.EscapeString(stringValue(value)))
	case "optioninput":
		fmt.Fprintf(&b, `<select name="input_%s" id="input_%s">`, html.EscapeString(f.ID), html.EscapeString(f.ID))
		b.WriteString(`<option value="">Select an option</option>`)
		for _, opt := range f.Options {
			sel := ""
			if stringValue(value) == opt {
				sel = ` selected="selected"`
			}
			fmt.Fprintf(&b, `<option value="%s"%s>%s</option>`, html.EscapeString(opt), sel, html.EscapeString(opt))
		}
		b.WriteString(`</select>`)
	case "choicegroup", "checkboxgroup":
		typ := "radio"
		suffix := ""
		if f.Tag == "checkboxgroup" {
			typ = "checkbox"
			suffix = "[]"
		}
		if f.GroupLabel != "" {
			fmt.Fprintf(&b, `<p class="group-label">%s</p>`, html.EscapeString(f.GroupLabel))
		}
		b.WriteString(`<fieldset>`)
		for i, c := range f.Choices {
			checked := ""
			if choiceSelected(value, c.Name) {
				checked = ` checked="checked"`
			}
			fmt.Fprintf(&b, `<label><input type="%s" name="input_%s%s" id="input_%s_%d" value="%s"%s/> %s</label>`,
				typ, html.EscapeString(f.ID), suffix, html.EscapeString(f.ID), i,
				html.EscapeString(c.Name), checked, c.Text)
		}
		b.WriteString(`</fieldset>`)
	default:
		fmt.Fprintf(&b, `<input type="text" name="input_%s" id="input_%s" value="%s"/>`,
			html.EscapeString(f.ID), html.EscapeString(f.ID), html.EscapeString(stringValue(value)))
	}
	if entry.Msg != "" {
		fmt.Fprintf(&b, `<span class="message">%s</span>`, entry.Msg)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// HandleAJAX dispatches an input-specific ajax request. textbox supports a
// plain-state save of the in-progress submission; other tags accept nothing.
func (f *InputField) HandleAJAX(dispatch string, data map[string]any, state map[string]any) (map[string]any, error) {
	switch f.Tag {
	case "textbox":
		if dispatch != "save_user_state" {
			return nil, fmt.Errorf("input %s: unknown dispatch %q", f.ID, dispatch)
		}
		if sub, ok := data["submission"]; ok {
			state["submission"] = sub
		}
		return map[string]any{"success": true}, nil
	default:
		return nil, fmt.Errorf("input %s (%s) does not handle ajax", f.ID, f.Tag)
	}
}

func statusClass(status string) string {
	// css classes use underscores
	return strings.ReplaceAll(status, "-", "_")
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ",")
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func choiceSelected(value any, name string) bool {
	switch t := value.(type) {
	case string:
		return t == name
	case []string:
		for _, v := range t {
			if v == name {
				return true
			}
		}
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == name {
				return true
			}
		}
	}
	return false
}
