package chat

import (
	"fmt"
	"strings"

	domchat "github.com/reactular/web3-insight-chat/internal/domain/chat"
	"github.com/reactular/web3-insight-chat/internal/domain/search/result"
)

// Assemble joins provenance-prefixed knowledge snippets with the external
// context block. Empty segments are omitted; both empty yields "" and the
// completion runs without extra context.
func Assemble(snippets []result.Result, externalText string) string {
	var blocks []string
	for _, r := range snippets {
		content := strings.TrimSpace(r.Content())
		if content == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[%s]\n%s", provenance(r), content))
	}

	knowledge := strings.Join(blocks, "\n\n")
	external := strings.TrimSpace(externalText)

	switch {
	case knowledge == "":
		return external
	case external == "":
		return knowledge
	default:
		return knowledge + "\n\n" + external
	}
}

// Attribution derives a source attribution from a retrieved snippet's
// metadata: title, then source, then the document id as a last resort.
func Attribution(r result.Result) domchat.Source {
	md := r.Metadata()
	name := metadataString(md, "title")
	if name == "" {
		name = metadataString(md, "source")
	}
	if name == "" {
		name = fmt.Sprintf("Document %d", r.ID())
	}
	return domchat.Source{Name: name, URL: metadataString(md, "url")}
}

// provenance renders the snippet prefix shown to the model.
func provenance(r result.Result) string {
	if title := metadataString(r.Metadata(), "title"); title != "" {
		return "Source: " + title
	}
	if src := metadataString(r.Metadata(), "source"); src != "" {
		return "Source: " + src
	}
	return fmt.Sprintf("Source: document %d", r.ID())
}

func metadataString(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	if v, ok := md[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
