package extraction

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Schema.org types that describe a dwelling or its sale.
var listingTypes = map[string]bool{
	"residence":             true,
	"house":                 true,
	"apartment":             true,
	"singlefamilyresidence": true,
	"accommodation":         true,
	"realestatelisting":     true,
	"product":               true,
	"offer":                 true,
}

// Nested entities a listing node may describe its dwelling through.
var entityKeys = []string{"mainEntity", "about", "itemOffered"}

type ldNode map[string]interface{}

// listingNodes returns every schema.org listing node found in ld+json blocks.
// Unparseable blocks are skipped.
func listingNodes(doc *goquery.Document) []ldNode {
	var nodes []ldNode
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v interface{}
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		collectNodes(v, &nodes)
	})
	return nodes
}

func collectNodes(v interface{}, out *[]ldNode) {
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			collectNodes(item, out)
		}
	case map[string]interface{}:
		if graph, ok := t["@graph"]; ok {
			collectNodes(graph, out)
			return
		}
		if isListingType(t["@type"]) {
			*out = append(*out, ldNode(t))
		}
	}
}

func isListingType(v interface{}) bool {
	for _, name := range typeNames(v) {
		if listingTypes[strings.ToLower(name)] {
			return true
		}
	}
	return false
}

func typeNames(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		names := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}

// layers returns the node followed by any nested entity it describes.
func (n ldNode) layers() []ldNode {
	out := []ldNode{n}
	for _, key := range entityKeys {
		if nested, ok := n[key].(map[string]interface{}); ok {
			out = append(out, ldNode(nested))
		}
	}
	return out
}

// lookup returns the first value found for any key on any layer.
func (n ldNode) lookup(keys ...string) interface{} {
	for _, layer := range n.layers() {
		for _, key := range keys {
			if v, ok := layer[key]; ok && v != nil {
				return v
			}
		}
	}
	return nil
}

func (n ldNode) text(keys ...string) string {
	return scalarText(n.lookup(keys...))
}

// dwellingType is the most specific dwelling @type on the node, if any.
func (n ldNode) dwellingType() string {
	for _, layer := range n.layers() {
		for _, name := range typeNames(layer["@type"]) {
			switch strings.ToLower(name) {
			case "house", "apartment", "singlefamilyresidence":
				return name
			}
		}
	}
	return ""
}

func (n ldNode) price() string {
	switch offers := n.lookup("offers").(type) {
	case map[string]interface{}:
		if p := scalarText(offers["price"]); p != "" {
			return p
		}
	case []interface{}:
		for _, o := range offers {
			if m, ok := o.(map[string]interface{}); ok {
				if p := scalarText(m["price"]); p != "" {
					return p
				}
			}
		}
	}
	return n.text("price")
}

func (n ldNode) image() string {
	switch img := n.lookup("image", "photo").(type) {
	case string:
		return img
	case []interface{}:
		for _, item := range img {
			if s := imageURL(item); s != "" {
				return s
			}
		}
	case map[string]interface{}:
		return imageURL(img)
	}
	return ""
}

func imageURL(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if u := scalarText(t["url"]); u != "" {
			return u
		}
		return scalarText(t["contentUrl"])
	}
	return ""
}

func (n ldNode) coordinates() (lat, lon *float64) {
	geo, ok := n.lookup("geo").(map[string]interface{})
	if !ok {
		return nil, nil
	}
	la, errLat := strconv.ParseFloat(scalarText(geo["latitude"]), 64)
	lo, errLon := strconv.ParseFloat(scalarText(geo["longitude"]), 64)
	if errLat != nil || errLon != nil {
		return nil, nil
	}
	return &la, &lo
}

// scalarText renders strings, numbers and QuantitativeValue objects as text.
func scalarText(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]interface{}:
		return scalarText(t["value"])
	}
	return ""
}
