package jsonapi

import (
	"bytes"
	"encoding/json"
	"strings"
)

// APIResponse is one page of the provider's article listing. Content items
// are kept raw so a single malformed entry does not spoil the whole page.
type APIResponse struct {
	PageInfo PageInfo          `json:"pageInfo"`
	Content  []json.RawMessage `json:"content"`
}

type PageInfo struct {
	Page       int `json:"page"`
	NumPages   int `json:"numPages"`
	PageSize   int `json:"pageSize"`
	NumEntries int `json:"numEntries"`
}

type Content struct {
	ID           externalID `json:"id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description"`
	Body         *string    `json:"body"`
	Date         string     `json:"date"`
	CanonicalURL string     `json:"canonicalUrl"`
	Tags         []APITag   `json:"tags"`
}

type APITag struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// externalID accepts both numeric and string identifiers.
type externalID string

func (e *externalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = externalID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*e = externalID(n.String())
	return nil
}
