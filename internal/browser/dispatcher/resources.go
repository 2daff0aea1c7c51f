// internal/browser/dispatcher/resources.go
package dispatcher

import (
	"strings"

	"github.com/xkilldash9x/loupe/internal/browser/dom"
)

// resource is either inline text or an external reference.
type resource struct {
	inline string
	href   string
}

type imageRef struct {
	node dom.NodeID
	src  string
}

type resources struct {
	sheets  []resource
	scripts []resource
	images  []imageRef
}

// collect walks doc once and gathers its subresources in document order.
func collect(doc *dom.Document) resources {
	var out resources
	doc.Walk(doc.Root(), func(id dom.NodeID, _ int) bool {
		switch doc.TagName(id) {
		case "style":
			out.sheets = append(out.sheets, resource{inline: doc.TextContent(id)})
		case "link":
			href, ok := doc.Attr(id, "href")
			if ok && href != "" && hasToken(attr(doc, id, "rel"), "stylesheet") {
				out.sheets = append(out.sheets, resource{href: href})
			}
		case "script":
			if !isClassicScript(attr(doc, id, "type")) {
				return true
			}
			if src, ok := doc.Attr(id, "src"); ok && src != "" {
				out.scripts = append(out.scripts, resource{href: src})
			} else {
				out.scripts = append(out.scripts, resource{inline: doc.TextContent(id)})
			}
		case "img":
			if src, ok := doc.Attr(id, "src"); ok && src != "" && !strings.HasPrefix(src, "data:") {
				out.images = append(out.images, imageRef{node: id, src: src})
			}
		}
		return true
	})
	return out
}

func attr(doc *dom.Document, id dom.NodeID, name string) string {
	v, _ := doc.Attr(id, name)
	return v
}

func hasToken(list, token string) bool {
	for f := range strings.FieldsSeq(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}

func isClassicScript(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript", "text/ecmascript":
		return true
	}
	return false
}
