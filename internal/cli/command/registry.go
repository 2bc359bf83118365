package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "events",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/events",
			Summary:      "list event records",
			Fields: []Field{
				{Name: "offset", Prompt: "offset", Type: FieldInt, In: InQuery},
				{Name: "limit", Prompt: "limit", Type: FieldInt, In: InQuery},
			},
		},
		{
			Service:      "events",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/events/:id",
			Summary:      "show one event record",
			Fields: []Field{
				{Name: "id", Aliases: []string{"event_id"}, Prompt: "event_id", Type: FieldString, In: InPath, Required: true},
			},
		},
		{
			Service:      "flyer",
			Action:       "sweep",
			Method:       "POST",
			PathTemplate: "/api/v1/flyers/cleanup:run",
			Summary:      "run the expired flyer cleanup now",
		},
		{
			Service:      "flyer",
			Action:       "attach",
			Method:       "POST",
			PathTemplate: "/api/v1/flyers:attach",
			Summary:      "attach a stored object as its event's flyer",
			Fields: []Field{
				{Name: "name", Aliases: []string{"object"}, Prompt: "object name (flyers/<event>.<ext>)", Type: FieldString, In: InBody, Required: true},
				{Name: "content_type", Aliases: []string{"type"}, Prompt: "content_type", Type: FieldString, In: InBody},
				{Name: "bucket", Prompt: "bucket", Type: FieldString, In: InBody},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// SortedKeys returns registry keys in display order.
func SortedKeys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)

	path := cmd.PathTemplate
	query := url.Values{}
	payload := map[string]interface{}{}
	for _, field := range cmd.Fields {
		raw := params.Get(field.Name)
		if raw == "" {
			if field.Required {
				return RequestSpec{}, fmt.Errorf("missing parameter: %s", field.Name)
			}
			continue
		}
		value, err := convert(field, raw)
		if err != nil {
			return RequestSpec{}, err
		}
		switch field.In {
		case InPath:
			path = strings.ReplaceAll(path, ":"+field.Name, url.PathEscape(raw))
		case InQuery:
			query.Set(field.Name, raw)
		default:
			payload[field.Name] = value
		}
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" && len(payload) > 0 {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func convert(field Field, raw string) (interface{}, error) {
	switch field.Type {
	case FieldInt:
		n, err := ParseInt(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
		}
		return n, nil
	default:
		return raw, nil
	}
}
