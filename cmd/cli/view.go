package main

import (
	"encoding/json"
	"io"
	"os"
	"unicode/utf8"

	"github.com/and161185/sealdb/internal/codec"
	"github.com/and161185/sealdb/internal/protocol"
)

// recordView is the JSON shape printed by query. Data is shown as text when
// it is valid UTF-8 and as base64 otherwise.
type recordView struct {
	ID         string   `json:"id"`
	Collection string   `json:"collection"`
	Text       string   `json:"text,omitempty"`
	Data       []byte   `json:"data,omitempty"`
	ACL        []string `json:"acl,omitempty"`
	Usecases   []string `json:"usecases"`
}

func recordViews(recs []protocol.Record) []recordView {
	out := make([]recordView, 0, len(recs))
	for _, r := range recs {
		v := recordView{
			ID:         r.ID.String(),
			Collection: r.Collection,
			ACL:        r.ACL,
			Usecases:   r.Usecases,
		}
		if utf8.Valid(r.Data) {
			v.Text = string(r.Data)
		} else {
			v.Data = r.Data
		}
		out = append(out, v)
	}
	return out
}

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// diagnose renders the payload msg would carry on the wire.
func diagnose(msg protocol.Message) (string, error) {
	_, payload, err := protocol.Encode(msg)
	if err != nil {
		return "", err
	}
	return codec.Diagnose(payload)
}
