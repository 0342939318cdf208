package main

import (
	"encoding/json"
	"strings"

	u "github.com/gofrs/uuid/v5"
)

// formFlags are the create/update inputs collected from the command line.
type formFlags struct {
	ID          string
	Title       string
	Source      []byte
	Description string
	Tags        string
	ChatID      string
	Private     bool
	ReadUsers   string
	WriteUsers  string
	Inactive    bool
}

// buildForm assembles the JSON body accepted by /create and /app/update.
// With no grants and Private unset the app is public.
func buildForm(f formFlags) map[string]any {
	meta := map[string]any{"tags": splitCSV(f.Tags)}
	if f.Description != "" {
		meta["description"] = f.Description
	}

	form := map[string]any{
		"id":          f.ID,
		"title":       f.Title,
		"source_code": string(f.Source),
		"params":      map[string]any{},
		"meta":        meta,
		"is_active":   !f.Inactive,
	}
	if f.ChatID != "" {
		form["source_chat_id"] = f.ChatID
	}

	read, write := splitCSV(f.ReadUsers), splitCSV(f.WriteUsers)
	switch {
	case len(read) > 0 || len(write) > 0:
		rule := map[string]any{}
		if len(read) > 0 {
			rule["read"] = map[string]any{"user_ids": read}
		}
		if len(write) > 0 {
			rule["write"] = map[string]any{"user_ids": write}
		}
		form["access_control"] = rule
	case f.Private:
		form["access_control"] = map[string]any{}
	default:
		form["access_control"] = nil
	}
	return form
}

// splitCSV splits a comma-separated list, dropping blanks. Never nil.
func splitCSV(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pretty(b []byte) string {
	var out any
	if json.Unmarshal(b, &out) == nil {
		j, _ := json.MarshalIndent(out, "", "  ")
		return string(j)
	}
	return string(b)
}

func autoUUID(id *string) {
	if *id == "" {
		v, _ := u.NewV4()
		*id = v.String()
	}
}

// importItems accepts either a bare export array or an {"apps": [...]} document.
func importItems(b []byte) ([]map[string]any, error) {
	var items []map[string]any
	if err := json.Unmarshal(b, &items); err == nil {
		return items, nil
	}
	var doc struct {
		Apps []map[string]any `json:"apps"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc.Apps, nil
}
