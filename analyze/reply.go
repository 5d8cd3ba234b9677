package analyze

import (
	"encoding/json"
)

// parseReply extracts the suggestion and comment from a model reply. A
// malformed field is dropped and reported in problems; the rest of the
// reply is still used. body is nil unless the model proposed a non-empty
// correction that differs from target.
func parseReply(content, target string) (body, comment *string, problems []string) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, nil, []string{"reply is not a JSON object: " + err.Error()}
	}
	if fields == nil {
		return nil, nil, []string{"reply is not a JSON object"}
	}

	hasSuggestion, ok := fields["has_suggestion"].(bool)
	if !ok {
		problems = append(problems, "has_suggestion is missing or not a boolean")
	}

	if raw, present := fields["suggestion"]; present {
		s, ok := raw.(string)
		switch {
		case !ok || s == "":
			problems = append(problems, "suggestion is not a non-empty string")
		case s == target:
			problems = append(problems, "suggestion is the same as target")
		case !hasSuggestion:
			problems = append(problems, "suggestion given without has_suggestion")
		default:
			body = &s
		}
	} else if hasSuggestion {
		problems = append(problems, "has_suggestion is set but suggestion is missing")
	}

	if raw, present := fields["comment"]; present {
		if s, ok := raw.(string); ok && s != "" {
			comment = &s
		} else {
			problems = append(problems, "comment is not a non-empty string")
		}
	}
	return body, comment, problems
}
