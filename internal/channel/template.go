package channel

import "strings"

// Template describes one templated message. The media variant carries an
// image header; the text variant carries body parameters only, with the
// link baked into an approved body slot.
type Template struct {
	Name       string
	Language   string
	ImageLink  string
	BodyParams []string
}

func (t Template) payload() templatePayload {
	lang := t.Language
	if lang == "" {
		lang = "en"
	}
	p := templatePayload{
		Name:     t.Name,
		Language: languagePayload{Code: lang},
	}
	if t.ImageLink != "" {
		p.Components = append(p.Components, componentPayload{
			Type: "header",
			Parameters: []parameterPayload{
				{Type: "image", Image: &imagePayload{Link: t.ImageLink}},
			},
		})
	}
	if len(t.BodyParams) > 0 {
		body := componentPayload{Type: "body"}
		for _, v := range t.BodyParams {
			body.Parameters = append(body.Parameters, parameterPayload{Type: "text", Text: v})
		}
		p.Components = append(p.Components, body)
	}
	return p
}

// RenderParams substitutes {placeholder} markers in body parameter values,
// e.g. {name} with the contact's display name. Empty values render as
// "there" so greetings stay grammatical.
func RenderParams(params []string, data map[string]string) []string {
	out := make([]string, len(params))
	for i, p := range params {
		for k, v := range data {
			if v == "" {
				v = "there"
			}
			p = strings.ReplaceAll(p, "{"+k+"}", v)
		}
		out[i] = p
	}
	return out
}
